package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChannelID is a source/target pairing rendered as "source:target".
type ChannelID struct {
	source string
	target string
}

func NewChannelID(source string, target string) (ChannelID, error) {
	if _, err := Require("channel source", source); err != nil {
		return ChannelID{}, err
	}
	if _, err := Require("channel target", target); err != nil {
		return ChannelID{}, err
	}
	if strings.Contains(source, ":") {
		return ChannelID{}, fmt.Errorf("%w: channel source %q contains ':'", ErrValidation, source)
	}
	return ChannelID{source: source, target: target}, nil
}

// ParseChannelID splits raw at the first ':'; the target may itself contain ':'.
func ParseChannelID(raw string) (ChannelID, error) {
	source, target, ok := strings.Cut(raw, ":")
	if !ok {
		return ChannelID{}, fmt.Errorf("%w: channel id %q missing ':'", ErrValidation, raw)
	}
	return NewChannelID(source, target)
}

func (c ChannelID) Source() string { return c.source }
func (c ChannelID) Target() string { return c.target }
func (c ChannelID) IsZero() bool   { return c.source == "" && c.target == "" }

func (c ChannelID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.source + ":" + c.target
}

func (c ChannelID) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("%w: empty channel id", ErrValidation)
	}
	return []byte(c.String()), nil
}

func (c *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// SessionID is an opaque handle grouping related exchanges.
type SessionID string

func NewSessionID(raw string) (SessionID, error) {
	id, err := Require("session id", raw)
	if err != nil {
		return "", err
	}
	return SessionID(id), nil
}

// GenerateSessionID returns a random (UUID v4) session id.
func GenerateSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (s SessionID) String() string { return string(s) }
func (s SessionID) IsEmpty() bool  { return s == "" }

func (s SessionID) MarshalText() ([]byte, error) {
	if s.IsEmpty() {
		return nil, fmt.Errorf("%w: empty session id", ErrValidation)
	}
	return []byte(s), nil
}

func (s *SessionID) UnmarshalText(text []byte) error {
	id, err := NewSessionID(string(text))
	if err != nil {
		return err
	}
	*s = id
	return nil
}

// WorkerOutput is the combined result of one worker execution. Output is a
// caller-formatted summary and need not equal Stdout+Stderr.
type WorkerOutput struct {
	ExitCode int64
	Stdout   string
	Stderr   string
	Output   string
}

// WorkerReport is the structured result of a single container/task execution.
type WorkerReport struct {
	CallID       string
	WorkerID     string
	Image        string
	Command      string
	WorkerOutput WorkerOutput
}

func NewWorkerReport(callID, workerID, image, command string, out WorkerOutput) (WorkerReport, error) {
	report := WorkerReport{
		CallID:       callID,
		WorkerID:     workerID,
		Image:        image,
		Command:      command,
		WorkerOutput: out,
	}
	if err := report.Validate(); err != nil {
		return WorkerReport{}, err
	}
	return report, nil
}

func (r WorkerReport) Validate() error {
	if _, err := Require("call_id", r.CallID); err != nil {
		return err
	}
	if _, err := Require("worker_id", r.WorkerID); err != nil {
		return err
	}
	if _, err := Require("image", r.Image); err != nil {
		return err
	}
	if _, err := Require("command", r.Command); err != nil {
		return err
	}
	return nil
}

// ChannelEvent is the only envelope exchanged on the wire, in both directions.
// Metadata is attached at most once, after construction.
type ChannelEvent struct {
	ChannelID ChannelID
	SessionID SessionID
	Content   string
	IsError   bool

	metadata json.RawMessage
}

func NewChannelEvent(channelID ChannelID, sessionID SessionID, content string) ChannelEvent {
	return ChannelEvent{
		ChannelID: channelID,
		SessionID: sessionID,
		Content:   content,
	}
}

// ErrorEvent builds an event flagged as a handler failure.
func ErrorEvent(channelID ChannelID, sessionID SessionID, content string) ChannelEvent {
	e := NewChannelEvent(channelID, sessionID, content)
	e.IsError = true
	return e
}

// AttachReport serializes report into the event metadata.
func (e *ChannelEvent) AttachReport(report WorkerReport) error {
	if e.HasMetadata() {
		return ErrMetadataAlreadySet
	}
	if err := report.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	e.metadata = raw
	return nil
}

func (e ChannelEvent) HasMetadata() bool {
	return len(e.metadata) > 0
}

// Metadata returns a copy of the raw metadata value, or nil when absent.
func (e ChannelEvent) Metadata() json.RawMessage {
	if !e.HasMetadata() {
		return nil
	}
	out := make(json.RawMessage, len(e.metadata))
	copy(out, e.metadata)
	return out
}

// Report decodes the attached worker report. ok is false when no metadata is set.
func (e ChannelEvent) Report() (report WorkerReport, ok bool, err error) {
	if !e.HasMetadata() {
		return WorkerReport{}, false, nil
	}
	if err := json.Unmarshal(e.metadata, &report); err != nil {
		return WorkerReport{}, true, fmt.Errorf("%w: metadata: %w", ErrProtocol, err)
	}
	return report, true, nil
}
