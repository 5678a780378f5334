package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/reportgate/internal/archive"
	"github.com/danmuck/reportgate/internal/identity"
	"github.com/danmuck/reportgate/internal/observability"
	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/danmuck/reportgate/internal/protocol/frame"
	"github.com/danmuck/reportgate/internal/protocol/session"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Application error codes carried on connection and stream close.
const (
	codeDone        quic.ApplicationErrorCode = 0
	codeNoStream    quic.ApplicationErrorCode = 1
	codeBadFrame    quic.ApplicationErrorCode = 2
	codeShutdown    quic.ApplicationErrorCode = 3
	codeHandlerFail quic.ApplicationErrorCode = 4
)

// ServiceConfig configures one gateway process.
type ServiceConfig struct {
	ListenAddr string
	GatewayID  string
	// HistoryLimit bounds the default Recorder.
	HistoryLimit int
	// ArchiveDir, when set, makes the default Recorder persist reports there.
	ArchiveDir string
	Admin      AdminConfig
	Session    session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:   "127.0.0.1:4433",
		GatewayID:    "gateway.local",
		HistoryLimit: DefaultRecorderLimit,
		Admin:        DefaultAdminConfig(),
		Session:      session.DefaultConfig(),
	}
}

// Service is the gateway runtime: accept loop plus per-connection handling.
type Service struct {
	cfg     ServiceConfig
	handler Handler

	connsMu sync.Mutex
	conns   map[*quic.Conn]struct{}

	activeClients atomic.Int64
}

// NewService builds a gateway. A nil handler records reports with a Recorder.
func NewService(cfg ServiceConfig, handler Handler) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.GatewayID) == "" {
		cfg.GatewayID = def.GatewayID
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	cfg.Session = cfg.Session.WithDefaults()
	if handler == nil {
		rec := NewRecorder(cfg.HistoryLimit)
		if dir := strings.TrimSpace(cfg.ArchiveDir); dir != "" {
			rec.WithArchive(archive.NewDir(dir))
		}
		handler = rec
	}
	return &Service{
		cfg:     cfg,
		handler: handler,
		conns:   make(map[*quic.Conn]struct{}),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Handler() Handler {
	return s.handler
}

// Listen binds the configured address with the configured identity.
func (s *Service) Listen() (*Endpoint, error) {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	return ListenWithConfig(s.cfg.ListenAddr, identity.FromConfig(s.cfg.Session.TLS), s.cfg.Session)
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext listens, serves, and runs the admin surface when configured,
// until ctx is cancelled.
func (s *Service) RunContext(ctx context.Context) error {
	ep, err := s.Listen()
	if err != nil {
		return err
	}
	log.Warn().
		Str("gateway", s.cfg.GatewayID).
		Str("addr", ep.Addr().String()).
		Str("alpn", s.cfg.Session.ALPN).
		Str("fingerprint", ep.Fingerprint()).
		Msg("gateway.Service.Run listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ep)
	})
	if strings.TrimSpace(s.cfg.Admin.ListenAddr) != "" {
		admin := NewAdmin(s.cfg.GatewayID, s.cfg.Admin, reportSourceOf(s.handler))
		g.Go(func() error {
			return admin.Serve(gctx)
		})
	}
	return g.Wait()
}

// Serve runs the accept loop on ep until ctx is cancelled or ep is closed.
// Both end conditions return nil. Open connections are closed and their
// handlers have returned before Serve does.
func (s *Service) Serve(ctx context.Context, ep *Endpoint) error {
	done := make(chan struct{})
	var handlers sync.WaitGroup
	defer func() {
		close(done)
		_ = ep.Close()
		s.closeAllConns()
		handlers.Wait()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = ep.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ep.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%w: gateway: accept: %w", session.ErrConnection, err)
		}
		s.trackConn(conn)
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Service) handleConn(ctx context.Context, conn *quic.Conn) {
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.activeClients.Add(1)
	release := observability.TrackGatewayConnection(s.cfg.GatewayID)
	log.Debug().Str("remote", remote).Int64("active_clients", active).Msg("gateway.session client connected")
	defer func() {
		release()
		remaining := s.activeClients.Add(-1)
		log.Debug().Str("remote", remote).Int64("active_clients", remaining).Msg("gateway.session client disconnected")
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("remote", remote).Interface("panic", r).Msg("gateway.Service.handleConn handler panic")
			_ = conn.CloseWithError(codeHandlerFail, "handler failure")
		}
	}()

	acceptCtx, cancel := context.WithTimeout(ctx, s.cfg.Session.StreamTimeout)
	stream, err := conn.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.handleConn accept stream")
		_ = conn.CloseWithError(codeNoStream, "no request stream")
		return
	}

	// Handlers observe both gateway shutdown and the peer going away.
	reqCtx, cancelReq := context.WithCancel(ctx)
	stopReq := context.AfterFunc(conn.Context(), cancelReq)
	ok := s.handleStream(reqCtx, stream, remote)
	stopReq()
	cancelReq()
	if !ok {
		_ = conn.CloseWithError(codeBadFrame, "bad request frame")
		return
	}

	// The client closes once it has read the response; closing first could
	// discard response bytes still in flight.
	linger := time.NewTimer(s.cfg.Session.StreamTimeout)
	defer linger.Stop()
	select {
	case <-conn.Context().Done():
	case <-linger.C:
	case <-ctx.Done():
	}
	_ = conn.CloseWithError(codeDone, "")
}

// handleStream serves one request/response exchange. It reports false when
// the request frame was unusable and the connection should be dropped.
func (s *Service) handleStream(ctx context.Context, stream *quic.Stream, remote string) bool {
	start := time.Now()
	_ = stream.SetDeadline(start.Add(s.cfg.Session.StreamTimeout))

	body, err := frame.ReadFrame(stream, s.cfg.Session.Limits)
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.handleStream read frame")
		stream.CancelRead(quic.StreamErrorCode(codeBadFrame))
		stream.CancelWrite(quic.StreamErrorCode(codeBadFrame))
		observability.RecordGatewayStream(s.cfg.GatewayID, observability.OutcomeFrameError, time.Since(start))
		return false
	}

	outcome := observability.OutcomeOK
	var resp protocol.ChannelEvent
	event, err := protocol.DecodeEvent(body)
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.handleStream decode event")
		resp = s.invalidEventResponse(err)
		outcome = observability.OutcomeInvalidEvent
	} else {
		resp = s.respond(ctx, event)
		if resp.IsError {
			outcome = observability.OutcomeHandlerError
		}
	}

	payload, err := protocol.EncodeEvent(resp)
	if err != nil {
		log.Error().Str("remote", remote).Err(err).Msg("gateway.Service.handleStream encode response")
		resp = s.invalidEventResponse(err)
		if payload, err = protocol.EncodeEvent(resp); err != nil {
			stream.CancelWrite(quic.StreamErrorCode(codeHandlerFail))
			observability.RecordGatewayStream(s.cfg.GatewayID, observability.OutcomeProtocolError, time.Since(start))
			return false
		}
		outcome = observability.OutcomeHandlerError
	}

	if err := frame.WriteFrame(stream, payload, s.cfg.Session.Limits); err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.handleStream write response")
		observability.RecordGatewayStream(s.cfg.GatewayID, observability.OutcomeTransportError, time.Since(start))
		return false
	}
	if err := stream.Close(); err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("gateway.Service.handleStream finish stream")
	}

	observability.RecordGatewayStream(s.cfg.GatewayID, outcome, time.Since(start))
	log.Debug().
		Str("remote", remote).
		Str("channel_id", resp.ChannelID.String()).
		Str("session_id", resp.SessionID.String()).
		Bool("is_error", resp.IsError).
		Dur("elapsed", time.Since(start)).
		Msg("gateway.Service.handleStream responded")
	return true
}

// respond calls the handler and fills response identifiers it left empty
// from the request.
func (s *Service) respond(ctx context.Context, event protocol.ChannelEvent) protocol.ChannelEvent {
	resp := s.handler.Handle(ctx, event)
	if resp.ChannelID.IsZero() {
		resp.ChannelID = event.ChannelID
	}
	if resp.SessionID.IsEmpty() {
		resp.SessionID = event.SessionID
	}
	return resp
}

// invalidEventResponse answers a complete frame whose body could not be used.
func (s *Service) invalidEventResponse(cause error) protocol.ChannelEvent {
	ch, err := protocol.NewChannelID("gateway", s.cfg.GatewayID)
	if err != nil {
		ch, _ = protocol.NewChannelID("gateway", DefaultServiceConfig().GatewayID)
	}
	return protocol.ErrorEvent(ch, protocol.GenerateSessionID(), "invalid-event: "+cause.Error())
}

func (s *Service) trackConn(conn *quic.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn *quic.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.CloseWithError(codeShutdown, "gateway shutting down")
		delete(s.conns, conn)
	}
}
