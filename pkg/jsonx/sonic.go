// Package jsonx is the JSON codec used at learngraph's persistence and input
// boundaries. It is backed by Sonic and configured to behave like
// encoding/json for map key ordering so stored blobs are byte-stable.
package jsonx

import (
	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses JSON-encoded data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns a string, which is what the
// TEXT columns in the store want.
func MarshalToString(v any) (string, error) {
	return api.MarshalToString(v)
}

// UnmarshalFromString parses a JSON string into v.
func UnmarshalFromString(data string, v any) error {
	return api.UnmarshalFromString(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
