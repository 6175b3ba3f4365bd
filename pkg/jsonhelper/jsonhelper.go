package jsonhelper

import (
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func Encode[T any](t T) []byte {
	b, err := json.Marshal(t)
	if err != nil {
		zap.S().With("t", t).Fatalln("couldn't encode the variable", "error", err)
	}
	return b
}

func Decode[T any](b []byte) T {
	var t T
	err := json.Unmarshal(b, &t)
	if err != nil {
		zap.S().With("t", t).With("val", string(b)).Fatalln("couldn't decode the variable", "error", err)
	}
	return t
}

// Lines writes one JSON document per line. Safe for concurrent use.
type Lines struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

func NewLines(w io.Writer) *Lines {
	return &Lines{enc: json.NewEncoder(w)}
}

func (l *Lines) Write(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(v)
}
