package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// reportWire is the flat metadata shape carried inside ChannelEvent.metadata.
type reportWire struct {
	CallID   string `json:"call_id"`
	WorkerID string `json:"worker_id"`
	Image    string `json:"image"`
	Command  string `json:"command"`
	ExitCode int64  `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Output   string `json:"output"`
}

func (r WorkerReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportWire{
		CallID:   r.CallID,
		WorkerID: r.WorkerID,
		Image:    r.Image,
		Command:  r.Command,
		ExitCode: r.WorkerOutput.ExitCode,
		Stdout:   r.WorkerOutput.Stdout,
		Stderr:   r.WorkerOutput.Stderr,
		Output:   r.WorkerOutput.Output,
	})
}

func (r *WorkerReport) UnmarshalJSON(data []byte) error {
	var w reportWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	report, err := NewWorkerReport(w.CallID, w.WorkerID, w.Image, w.Command, WorkerOutput{
		ExitCode: w.ExitCode,
		Stdout:   w.Stdout,
		Stderr:   w.Stderr,
		Output:   w.Output,
	})
	if err != nil {
		return err
	}
	*r = report
	return nil
}

type eventWire struct {
	ChannelID ChannelID       `json:"channel_id"`
	SessionID SessionID       `json:"session_id"`
	Content   string          `json:"content"`
	IsError   bool            `json:"is_error"`
	Metadata  json.RawMessage `json:"metadata"`
}

var jsonNull = []byte("null")

func (e ChannelEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventWire{
		ChannelID: e.ChannelID,
		SessionID: e.SessionID,
		Content:   e.Content,
		IsError:   e.IsError,
		Metadata:  e.metadata,
	})
}

func (e *ChannelEvent) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	meta := bytes.TrimSpace(w.Metadata)
	if len(meta) == 0 || bytes.Equal(meta, jsonNull) {
		meta = nil
	}
	*e = ChannelEvent{
		ChannelID: w.ChannelID,
		SessionID: w.SessionID,
		Content:   w.Content,
		IsError:   w.IsError,
		metadata:  meta,
	}
	return nil
}

// EncodeEvent renders the UTF-8 JSON wire body for one event.
func EncodeEvent(e ChannelEvent) ([]byte, error) {
	if e.ChannelID.IsZero() {
		return nil, fmt.Errorf("%w: missing channel_id", ErrValidation)
	}
	if e.SessionID.IsEmpty() {
		return nil, fmt.Errorf("%w: missing session_id", ErrValidation)
	}
	return json.Marshal(e)
}

// DecodeEvent parses one wire body. Any schema violation wraps ErrProtocol,
// including a metadata value that is not a valid worker report.
func DecodeEvent(body []byte) (ChannelEvent, error) {
	var e ChannelEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return ChannelEvent{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if e.ChannelID.IsZero() {
		return ChannelEvent{}, fmt.Errorf("%w: missing channel_id", ErrProtocol)
	}
	if e.SessionID.IsEmpty() {
		return ChannelEvent{}, fmt.Errorf("%w: missing session_id", ErrProtocol)
	}
	if _, _, err := e.Report(); err != nil {
		return ChannelEvent{}, err
	}
	return e, nil
}
