// Package protocol owns the report submission data model and its wire body.
//
// Ownership boundary:
// - channel/session identifiers
// - worker output/report value types
// - ChannelEvent envelope and its JSON wire body
//
// Framing lives in protocol/frame; transport policy lives in protocol/session.
package protocol
