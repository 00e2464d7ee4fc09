package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestDecodeAll(t *testing.T) {
	codec := NewJsonEncoderDecoder[sample]()
	data, err := codec.Encode(sample{Name: "a", Count: 1})
	require.NoError(t, err)

	out, err := DecodeAll[sample](codec, []string{string(data), `{"name":"b","count":2}`})
	require.NoError(t, err)
	require.Equal(t, []sample{{"a", 1}, {"b", 2}}, out)

	_, err = DecodeAll[sample](codec, []string{string(data), "not json"})
	require.ErrorContains(t, err, "decoding value 1")
}
