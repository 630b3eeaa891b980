package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"mismobridge/internal/canonical"
)

// readInput reads a file, or stdin when path is "-".
func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func readRecord(in io.Reader, path string) (canonical.Record, error) {
	data, err := readInput(in, path)
	if err != nil {
		return canonical.Record{}, err
	}
	var rec canonical.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return canonical.Record{}, fmt.Errorf("parse canonical record %s: %w", path, err)
	}
	return rec, nil
}

// writeOutput writes data to path, or to w when path is empty or "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(w, path, append(data, '\n'))
}
