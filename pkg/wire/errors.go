package wire

import "errors"

var (
	ErrMissingType    = errors.New("envelope has no type field")
	ErrMissingPayload = errors.New("envelope has no payload")
)
