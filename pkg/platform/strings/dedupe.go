// Package strings holds small string helpers shared by config parsing.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated setting such as KAFKA_BROKERS or
// MISMOBRIDGE_MODES. Items are trimmed; empty items and repeats are dropped
// and the first occurrence keeps its position.
func SplitList(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for item := range strings.SplitSeq(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
