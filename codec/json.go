package codec

import "encoding/json"

// JSON is a Codec that serializes values with encoding/json. The zero value
// is ready to use. It is the interoperable default: values written this way
// can be read by any client that agrees on the JSON shape.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
