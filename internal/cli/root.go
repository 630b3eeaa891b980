// Package cli implements mismoctl, a command line front end over the
// pipeline service.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/pipeline/service"
	"mismobridge/internal/pipeline/store/quarantine"
	"mismobridge/internal/pipeline/store/report"
	"mismobridge/internal/pipeline/store/sink"
	"mismobridge/internal/platform/config"
	"mismobridge/internal/platform/logger"
)

// Execute runs mismoctl and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	mode       string
	packID     string
	packDir    string
	mappingDir string
	modes      string
	logLevel   string
}

func (o *options) target() models.Target {
	return models.Target{Mode: o.mode, PackID: o.packID}
}

// app is what a command needs to run: the loaded definitions and a
// pipeline service over in-memory stores.
type app struct {
	packs   *pack.Registry
	table   *mapping.Table
	service *service.Service
}

func (o *options) load() (*pack.Registry, *mapping.Table, error) {
	var (
		packs *pack.Registry
		table *mapping.Table
		err   error
	)
	if o.packDir != "" {
		packs, err = pack.Load(os.DirFS(o.packDir))
	} else {
		packs, err = pack.Default()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load packs: %w", err)
	}
	if o.mappingDir != "" {
		table, err = mapping.Load(os.DirFS(o.mappingDir))
	} else {
		table, err = mapping.Default()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load mapping tables: %w", err)
	}
	return packs, table, nil
}

func (o *options) app(stderr io.Writer, extra ...service.Option) (*app, error) {
	packs, table, err := o.load()
	if err != nil {
		return nil, err
	}
	modes, err := config.ParseModes(o.modes)
	if err != nil {
		return nil, err
	}
	opts := append([]service.Option{
		service.WithLogger(logger.NewWithWriter(stderr, o.logLevel)),
		service.WithModes("", modes),
	}, extra...)
	svc, err := service.New(packs, table, report.NewInMemory(), quarantine.NewInMemory(0), opts...)
	if err != nil {
		return nil, err
	}
	return &app{packs: packs, table: table, service: svc}, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "mismoctl",
		Short:        "Export, import and validate MISMO loan documents",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.mode, "mode", "m", "", "Delivery mode (see --modes)")
	flags.StringVarP(&opts.packID, "pack", "p", "", "Schema pack id; overrides --mode")
	flags.StringVar(&opts.modes, "modes", config.DefaultModes, "Mode bindings as name=pack,name=pack")
	flags.StringVar(&opts.packDir, "pack-dir", "", "Directory with index.yaml and pack files (default: built-in packs)")
	flags.StringVar(&opts.mappingDir, "mapping-dir", "", "Directory with fields.yaml and extensions.yaml (default: built-in tables)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")

	cmd.AddCommand(
		exportCmd(opts),
		importCmd(opts),
		validateCmd(opts),
		preflightCmd(opts),
		packsCmd(opts),
		harnessCmd(opts),
		extensionsCmd(opts),
	)
	return cmd
}

// fileSink returns a record sink option when dir is set.
func fileSink(dir string) ([]service.Option, error) {
	if dir == "" {
		return nil, nil
	}
	s, err := sink.NewFileSink(dir)
	if err != nil {
		return nil, err
	}
	return []service.Option{service.WithRecordSink(s)}, nil
}
