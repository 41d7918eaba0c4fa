package json

import (
	"io"

	goccyjson "github.com/goccy/go-json"
)

func Marshal(v interface{}) ([]byte, error) {
	return goccyjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return goccyjson.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *goccyjson.Decoder {
	return goccyjson.NewDecoder(r)
}

func NewEncoder(w io.Writer) *goccyjson.Encoder {
	return goccyjson.NewEncoder(w)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return goccyjson.Valid(data)
}

// RawMessage is a raw encoded JSON value.
type RawMessage = goccyjson.RawMessage
