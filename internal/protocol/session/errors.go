package session

import "errors"

// Transport failure classes surfaced by Submit and the gateway listener.
var (
	ErrConnection = errors.New("session: connection failed")
	ErrTimeout    = errors.New("session: deadline exceeded")
	ErrTLS        = errors.New("session: tls failure")
)
