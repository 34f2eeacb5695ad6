// Package smtp implements the receiving SMTP server: a line-oriented
// command loop over raw TCP, the envelope state machine, and the DATA
// phase that hands completed messages to the delivery pipeline.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	stdio "io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	wireio "github.com/mailroomlabs/mailroom/io"
	"github.com/mailroomlabs/mailroom/metrics"
	"github.com/mailroomlabs/mailroom/mime"
	"github.com/mailroomlabs/mailroom/session"
	"github.com/mailroomlabs/mailroom/utils"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("smtp: server closed")

// Deliverer persists a parsed message for its envelope recipients.
type Deliverer interface {
	Deliver(ctx context.Context, sender string, recipients []string, msg *mime.ParsedMessage) error
}

// ReverseResolver resolves the PTR name for a peer address. Optional;
// a nil resolver skips the lookup.
type ReverseResolver interface {
	Reverse(ctx context.Context, ip net.IP) (string, error)
}

// ServerConfig holds the SMTP server configuration.
type ServerConfig struct {
	// Hostname is announced in the greeting. Required.
	Hostname string
	// Addr is the listen address. Defaults to ":2525".
	Addr string
	// TLSConfig enables implicit TLS via ListenAndServeTLS.
	TLSConfig *tls.Config

	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int
	// MaxLineLength bounds a single command line. Defaults to 4096.
	MaxLineLength int
	// ReadTimeout is the per-command read deadline. Defaults to 5 minutes.
	ReadTimeout time.Duration
	// DataLineTimeout is the per-line deadline inside a DATA block.
	DataLineTimeout time.Duration
	// DataMaxLines bounds the number of lines in a DATA block.
	DataMaxLines int
	// DeliveryTimeout bounds the whole delivery of one message.
	// Defaults to 30 seconds.
	DeliveryTimeout time.Duration

	Logger   *slog.Logger
	Registry *session.Registry

	// Pipeline receives every completed message. Required.
	Pipeline Deliverer
	// Resolver performs the reverse-DNS lookup on connect. Optional.
	Resolver ReverseResolver
}

// Server is an SMTP server that handles concurrent connections, one
// goroutine per client.
type Server struct {
	config   ServerConfig
	listener net.Listener

	// connections tracks active connections
	connMu      sync.Mutex
	connections map[*Connection]struct{}

	// shutdown coordination
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a new SMTP server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, errors.New("smtp: hostname is required")
	}
	if config.Pipeline == nil {
		return nil, errors.New("smtp: delivery pipeline is required")
	}

	// Apply defaults
	if config.Addr == "" {
		config.Addr = ":2525"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Minute
	}
	if config.MaxLineLength == 0 {
		config.MaxLineLength = 4096
	}
	if config.DataLineTimeout == 0 {
		config.DataLineTimeout = wireio.DefaultDataOptions().LineTimeout
	}
	if config.DataMaxLines == 0 {
		config.DataMaxLines = wireio.DefaultDataOptions().MaxLines
	}
	if config.DeliveryTimeout == 0 {
		config.DeliveryTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Registry == nil {
		config.Registry = session.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:      config,
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ListenAndServe starts the SMTP server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// ListenAndServeTLS starts the SMTP server with implicit TLS.
func (s *Server) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("smtp: TLS config is required for TLS server")
	}
	listener, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen TLS: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them.
func (s *Server) Serve(listener net.Listener) error {
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}
	s.listener = listener

	s.config.Logger.Info("SMTP server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("hostname", s.config.Hostname),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			continue
		}

		s.shutdownWg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown gracefully shuts down the server: the listener stops
// accepting, connected clients get a 421, and in-flight connections are
// waited for up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.sendShutdownResponse()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.connMu.Lock()
		for conn := range s.connections {
			_ = conn.Close()
		}
		s.connMu.Unlock()
		return ctx.Err()
	}
}

// Close immediately closes the server and all connections.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.sendShutdownResponse()

	s.connMu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.connMu.Unlock()

	return nil
}

// sendShutdownResponse sends a 421 to all connected clients and closes
// them, per RFC 5321.
func (s *Server) sendShutdownResponse() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.connections {
		_ = conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		resp := Response{
			Code:    CodeServiceUnavailable,
			Message: fmt.Sprintf("%s Service shutting down [%s]", s.config.Hostname, conn.sess.ID),
		}
		_, _ = conn.writer.WriteString(resp.String() + "\r\n")
		_ = conn.writer.Flush()
		_ = conn.conn.Close()
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()

	sess := &session.Info{
		ID:         utils.GenerateID(),
		Protocol:   session.ProtocolSMTP,
		State:      session.StateNotAuthenticated,
		RemoteAddr: netConn.RemoteAddr().String(),
	}
	s.config.Registry.Add(sess)

	conn := newConnection(netConn, sess, s.config.MaxLineLength)

	s.connMu.Lock()
	s.connections[conn] = struct{}{}
	s.connMu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues("smtp").Inc()
	metrics.OpenConnections.WithLabelValues("smtp").Inc()

	logger := s.config.Logger.With(
		slog.String("conn_id", sess.ID),
		slog.String("remote", sess.RemoteAddr),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in connection handler", slog.Any("panic", r))
		}
		s.connMu.Lock()
		delete(s.connections, conn)
		s.connMu.Unlock()
		s.config.Registry.Remove(sess.ID)
		metrics.OpenConnections.WithLabelValues("smtp").Dec()
		_ = conn.Close()
	}()

	logger.Info("client connected")
	s.resolveReverseDNS(netConn, sess.ID, logger)

	// Send greeting
	s.writeResponse(conn, Response{
		Code:    CodeServiceReady,
		Message: fmt.Sprintf("%s SMTP Service Ready [%s]", s.config.Hostname, sess.ID),
	})

	s.commandLoop(conn, logger)

	logger.Info("client disconnected")
}

// resolveReverseDNS kicks off the PTR lookup for the peer in the
// background. The result only feeds session observability.
func (s *Server) resolveReverseDNS(netConn net.Conn, sessID string, logger *slog.Logger) {
	if s.config.Resolver == nil {
		return
	}
	ip, err := utils.GetIPFromAddr(netConn.RemoteAddr())
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		name, err := s.config.Resolver.Reverse(ctx, ip)
		if err != nil || name == "" {
			return
		}
		s.config.Registry.SetReverseDNS(sessID, name)
		logger.Debug("reverse dns resolved", slog.String("ptr", name))
	}()
}

// commandLoop processes commands from the client until QUIT, EOF, or a
// read failure.
func (s *Server) commandLoop(conn *Connection, logger *slog.Logger) {
	for {
		// Check for shutdown
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := conn.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			return
		}

		line, err := wireio.ReadLine(conn.reader, s.config.MaxLineLength)
		if err != nil {
			if err == stdio.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.writeResponse(conn, Response{
					Code:    CodeServiceUnavailable,
					Message: "Timeout waiting for command",
				})
				return
			}
			if errors.Is(err, wireio.ErrLineTooLong) {
				s.writeResponse(conn, Response{
					Code:    CodeSyntaxError,
					Message: "Line too long",
				})
				continue
			}
			logger.Error("read error", slog.Any("error", err))
			return
		}

		s.config.Registry.Touch(conn.sess.ID)

		cmd, args, err := parseCommand(line)
		if err != nil {
			s.writeResponse(conn, Response{
				Code:    CodeCommandUnrecognized,
				Message: "Unknown command",
			})
			continue
		}

		logger.Debug("command received", slog.String("cmd", string(cmd)), slog.String("args", args))

		if response := s.dispatch(conn, cmd, args, logger); response != nil {
			s.writeResponse(conn, *response)
		}

		if conn.closing {
			return
		}
	}
}

// writeResponse sends a single response line to the client.
func (s *Server) writeResponse(conn *Connection, resp Response) {
	if err := conn.conn.SetWriteDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return
	}

	if _, err := conn.writer.WriteString(resp.String() + "\r\n"); err != nil {
		return
	}
	_ = conn.writer.Flush()
}
