package util

import (
	"encoding/json"
	"fmt"
	"io"
)

// WritePrettyJSON writes v to w as indented JSON. Non-ASCII text such as
// client names is written as-is rather than escaped.
func WritePrettyJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
