package device

import "errors"

var (
	// ErrDeviceReported wraps error events published by the gateway.
	ErrDeviceReported  = errors.New("controller reported error")
	ErrCommandRejected = errors.New("command rejected by gateway")
	ErrMalformedStatus = errors.New("malformed status payload")
)
