// Package gateway owns the receiving side of worker report submission.
//
// Ownership boundary:
// - QUIC endpoint with the gateway TLS identity and pinned ALPN
// - accept loop, one goroutine per connection, one request stream per connection
// - Handler contract and the report Recorder
// - admin HTTP surface (health, metrics, recent reports)
//
// A failing connection or stream is logged and dropped; it never stops the
// accept loop.
package gateway
