// Package session owns the transport session policy shared by the gateway and
// the worker client.
//
// Ownership boundary:
// - ALPN identifier and QUIC timeouts
// - security mode and trust policy validation
// - transport error taxonomy (ErrConnection, ErrTimeout, ErrTLS)
//
// Framing lives in protocol/frame; the event body lives in protocol.
package session
