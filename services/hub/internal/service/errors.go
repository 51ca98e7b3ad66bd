package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDecryption       = errors.New("decryption failed")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidKind      = errors.New("invalid kind")
	ErrStoreUnavailable = errors.New("event store unavailable")
)

var (
	ErrMissingDeviceID = fmt.Errorf("%w: missing X-Device-ID header", ErrInvalidRequest)
	ErrEmptyPayload    = fmt.Errorf("%w: empty payload", ErrInvalidRequest)
)
