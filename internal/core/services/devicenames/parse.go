package devicenames

import (
	"strings"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
)

const fieldSeparator = ";"

// ParseTable builds a fresh table from the remote body.
// Format: one "identifier;displayName" pair per line.
// Empty segments are dropped; lines with fewer than two remaining fields
// are skipped. Later lines overwrite earlier ones with the same identifier.
func ParseTable(body string) domain.Table {
	table := make(domain.Table)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		fields := splitFields(line)
		if len(fields) < 2 {
			continue
		}

		table[fields[0]] = fields[1]
	}

	return table
}

func splitFields(line string) []string {
	parts := strings.Split(line, fieldSeparator)
	fields := parts[:0]
	for _, p := range parts {
		if p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}
