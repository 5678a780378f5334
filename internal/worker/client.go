// Package worker owns the submitting side: one report, one QUIC connection,
// one stream, bounded by a caller deadline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/reportgate/internal/observability"
	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/danmuck/reportgate/internal/protocol/frame"
	"github.com/danmuck/reportgate/internal/protocol/session"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

var ErrGatewayAddressRequired = errors.New("worker: gateway address required")

const codeClientDone quic.ApplicationErrorCode = 0

type ClientConfig struct {
	Session session.Config
	// KnownHosts backs tofu trust. Nil selects a file store when
	// Session.TLS.KnownHostsFile is set, else an in-memory store.
	KnownHosts KnownHosts
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session: session.DefaultConfig(),
	}
}

// Client submits worker reports. It holds no per-submission state and is safe
// for concurrent use.
type Client struct {
	cfg   ClientConfig
	known KnownHosts
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	known := cfg.KnownHosts
	if known == nil && cfg.Session.TLS.Trust == session.TrustTOFU {
		if path := strings.TrimSpace(cfg.Session.TLS.KnownHostsFile); path != "" {
			known = NewFileKnownHosts(path)
		} else {
			known = NewMemoryKnownHosts()
		}
	}
	return &Client{cfg: cfg, known: known}, nil
}

// Submit sends event to the gateway at addr and returns its response. The
// deadline bounds dial, stream open, write and read together; a non-positive
// deadline uses Session.StreamTimeout. The connection is closed on every
// return path.
func (c *Client) Submit(ctx context.Context, addr string, event protocol.ChannelEvent, deadline time.Duration) (protocol.ChannelEvent, error) {
	start := time.Now()
	resp, err := c.submit(ctx, addr, event, deadline)
	outcome := submitOutcome(err)
	observability.RecordSubmission(outcome, time.Since(start))
	if err != nil {
		log.Warn().
			Str("addr", addr).
			Str("outcome", outcome).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("worker.Client.Submit failed")
		return protocol.ChannelEvent{}, err
	}
	log.Debug().
		Str("addr", addr).
		Bool("is_error", resp.IsError).
		Dur("elapsed", time.Since(start)).
		Msg("worker.Client.Submit acknowledged")
	return resp, nil
}

func (c *Client) submit(ctx context.Context, addr string, event protocol.ChannelEvent, deadline time.Duration) (protocol.ChannelEvent, error) {
	if strings.TrimSpace(addr) == "" {
		return protocol.ChannelEvent{}, ErrGatewayAddressRequired
	}
	if deadline <= 0 {
		deadline = c.cfg.Session.StreamTimeout
	}
	body, err := protocol.EncodeEvent(event)
	if err != nil {
		return protocol.ChannelEvent{}, err
	}
	payload, err := frame.Encode(body, c.cfg.Session.Limits)
	if err != nil {
		return protocol.ChannelEvent{}, err
	}
	tlsCfg, err := clientTLSConfig(c.cfg.Session, addr, c.known)
	if err != nil {
		return protocol.ChannelEvent{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, tlsCfg, c.cfg.Session.QUICConfig())
	if err != nil {
		return protocol.ChannelEvent{}, classify(ctx, "dial", err)
	}
	defer conn.CloseWithError(codeClientDone, "")
	// Expiry tears the connection down so a blocked read returns promptly.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWithError(codeClientDone, "deadline exceeded")
	})
	defer stop()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return protocol.ChannelEvent{}, classify(ctx, "open stream", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	}

	if _, err := stream.Write(payload); err != nil {
		return protocol.ChannelEvent{}, classify(ctx, "write", err)
	}
	if err := stream.Close(); err != nil {
		return protocol.ChannelEvent{}, classify(ctx, "finish", err)
	}

	respBody, err := frame.ReadFrame(stream, c.cfg.Session.Limits)
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, frame.ErrIncompleteFrame) || errors.Is(err, frame.ErrFrameTooLarge)) {
			return protocol.ChannelEvent{}, err
		}
		return protocol.ChannelEvent{}, classify(ctx, "read", err)
	}
	return protocol.DecodeEvent(respBody)
}

// classify maps a transport failure onto the session error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if isTimeout(ctx, err) {
		return fmt.Errorf("%w: worker: %s: %w", session.ErrTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %s: %w", op, err)
	}
	if isTLSFailure(err) {
		return fmt.Errorf("%w: %w: worker: %s: %w", session.ErrConnection, session.ErrTLS, op, err)
	}
	return fmt.Errorf("%w: worker: %s: %w", session.ErrConnection, op, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var handshake *quic.HandshakeTimeoutError
	var idle *quic.IdleTimeoutError
	return errors.As(err, &handshake) || errors.As(err, &idle)
}

func isTLSFailure(err error) bool {
	if errors.Is(err, session.ErrTLS) {
		return true
	}
	var transportErr *quic.TransportError
	return errors.As(err, &transportErr) && transportErr.ErrorCode.IsCryptoError()
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, session.ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, session.ErrTLS):
		return observability.OutcomeTLSError
	case errors.Is(err, session.ErrConnection):
		return observability.OutcomeTransportError
	case errors.Is(err, frame.ErrIncompleteFrame), errors.Is(err, frame.ErrFrameTooLarge):
		return observability.OutcomeFrameError
	default:
		return observability.OutcomeProtocolError
	}
}
