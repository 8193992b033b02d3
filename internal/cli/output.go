package cli

import (
	"encoding/json"
	"io"
)

// emit writes v as indented JSON when format is "json", otherwise calls text.
func emit(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
