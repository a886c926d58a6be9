package ingest

// encoding.go handles the byte-level mess real-world uploads carry:
//
//   - UTF-8 BOM (0xEF 0xBB 0xBF) prepended by Windows programs
//   - invalid UTF-8 sequences from files saved in legacy encodings
//
// Uploads are size-capped before these run, so whole-buffer passes are fine.

import (
	"bytes"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a leading UTF-8 byte order mark if present.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the Unicode
// replacement character. Valid input is returned unchanged without copying.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.Write(data[:size])
			data = data[size:]
		}
	}

	return buf.Bytes()
}
