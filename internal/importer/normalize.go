package importer

import (
	"strings"

	"kundimport/internal/ingest"
	"kundimport/internal/schema"
)

// NormalizeRow resolves a raw row's headers against the synonym table and
// returns the partial field mapping the validator works on.
//
// Unknown headers are discarded silently; rejecting them would make every
// export with extra bookkeeping columns unimportable. Cells that are empty
// after trimming are dropped so "present but blank" and "absent" look the
// same downstream. When two source columns resolve to the same field the
// rightmost non-empty column wins (last-write-wins in column order), a
// deliberate low-risk policy for files that carry e.g. both "Telefon" and
// "Mobilnummer".
func NormalizeRow(row ingest.RawRow) map[schema.Field]string {
	fields := make(map[schema.Field]string)

	for _, header := range row.Headers {
		field, ok := schema.ResolveHeader(header)
		if !ok {
			continue
		}
		value := strings.TrimSpace(row.Cells[header])
		if value == "" {
			continue
		}
		fields[field] = value
	}

	return fields
}
