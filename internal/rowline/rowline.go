// Package rowline splits raw change-source chunks into row records.
package rowline

import (
	"strings"
)

// Split decodes chunk as UTF-8 and returns its non-blank lines in order.
// Invalid UTF-8 is replaced rather than rejected. Each chunk is handled on its
// own: a row split across two chunks comes out as two partial rows.
func Split(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	text := strings.ToValidUTF8(string(chunk), "�")

	var rows []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows
}
