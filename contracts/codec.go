package contracts

import (
	"encoding/json"
	"fmt"
)

// Codec encodes outbound payloads and decodes inbound ones. Implementations
// must be safe for concurrent use. A decode failure is a recoverable
// per-message error, never a reason to stop consuming.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSONCodec is the default codec: UTF-8 JSON.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return data, nil
}

// Decode implements Codec. Objects decode to map[string]any, arrays to
// []any, following encoding/json defaults.
func (JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return v, nil
}
