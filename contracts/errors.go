package contracts

import "errors"

var (
	// ErrEncodeFailed indicates the codec could not serialize a payload.
	ErrEncodeFailed = errors.New("jetbridge: payload encode failed")

	// ErrDecodeFailed indicates the codec could not deserialize a payload.
	ErrDecodeFailed = errors.New("jetbridge: payload decode failed")

	// ErrInvalidKind indicates an unknown message kind.
	ErrInvalidKind = errors.New("jetbridge: invalid message kind")
)
