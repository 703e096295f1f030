package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Text is a form field value. Form inputs are strings, but payloads written
// by older clients sometimes carry numbers or booleans; those are accepted
// and kept in their textual form. Arrays and objects read as empty; the
// stored value itself is left alone when the payload is written back.
type Text string

// UnmarshalJSON accepts any JSON value.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("form: decoding text: %w", err)
		}

		*t = Text(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*t = Text(data)
	case len(data) > 0 && (data[0] == '[' || data[0] == '{'):
		if !json.Valid(data) {
			return fmt.Errorf("form: invalid field value %s", data)
		}

		*t = ""
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return fmt.Errorf("form: unsupported field value %s", data)
		}

		*t = Text(data)
	}

	return nil
}

// String returns the value.
func (t Text) String() string {
	return string(t)
}
