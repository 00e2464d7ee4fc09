package util

import (
	"encoding/json"
	"fmt"
)

// EncoderDecoder is the value codec used by the Redis stores.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type JsonEncDec[T any] struct{}

var _ EncoderDecoder[any] = new(JsonEncDec[any])

func NewJsonEncoderDecoder[T any]() *JsonEncDec[T] {
	return &JsonEncDec[T]{}
}

func (encdec *JsonEncDec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (encdec *JsonEncDec[T]) Decode(data []byte) (*T, error) {
	res := new(T)
	if err := json.Unmarshal(data, res); err != nil {
		return nil, err
	}
	return res, nil
}

// DecodeAll decodes values in order. The first failure is reported with its
// position.
func DecodeAll[T any](codec EncoderDecoder[T], values []string) ([]T, error) {
	out := make([]T, 0, len(values))
	for i, v := range values {
		decoded, err := codec.Decode([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("decoding value %d: %w", i, err)
		}
		out = append(out, *decoded)
	}
	return out, nil
}
