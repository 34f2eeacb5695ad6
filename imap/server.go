// Package imap implements the IMAP4rev1-subset server: tagged request
// parsing, the per-connection state machine, and mailbox metadata
// queries against the collaborator email store.
package imap

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
	"github.com/mailroomlabs/mailroom/session"
	"github.com/mailroomlabs/mailroom/store"
	"github.com/mailroomlabs/mailroom/utils"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("imap: server closed")

// capabilities is the advertised capability list. Most entries are
// advertised for client compatibility; only the subset the command
// table implements is actually served.
var capabilities = []string{
	"IMAP4rev1",
	"STARTTLS",
	"AUTH=PLAIN",
	"AUTH=LOGIN",
	"IDLE",
	"NAMESPACE",
	"QUOTA",
	"ID",
	"ENABLE",
	"CONDSTORE",
	"QRESYNC",
}

// mailboxes is the fixed mailbox set every account has.
var mailboxes = []string{"INBOX", "Sent", "Drafts", "Trash", "Spam"}

// ServerConfig holds the IMAP server configuration.
type ServerConfig struct {
	// Hostname is announced in the greeting. Required.
	Hostname string
	// Addr is the listen address. Defaults to ":1143".
	Addr string
	// TLSConfig enables implicit TLS via ListenAndServeTLS.
	TLSConfig *tls.Config

	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int
	// MaxLineLength bounds a single command line. Defaults to 4096.
	MaxLineLength int
	// ReadTimeout is the per-command read deadline. Defaults to 30 minutes.
	ReadTimeout time.Duration

	// DevelopmentMode accepts any credentials. With it off every
	// authentication attempt is refused.
	DevelopmentMode bool

	Logger   *slog.Logger
	Registry *session.Registry

	// Store answers SELECT mailbox-metadata queries. Required.
	Store store.EmailStore
}

// Server is an IMAP server that handles concurrent connections, one
// goroutine per client.
type Server struct {
	config   ServerConfig
	listener net.Listener

	connMu      sync.Mutex
	connections map[*Connection]struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// NewServer creates a new IMAP server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, errors.New("imap: hostname is required")
	}
	if config.Store == nil {
		return nil, errors.New("imap: email store is required")
	}

	if config.Addr == "" {
		config.Addr = ":1143"
	}
	if config.MaxLineLength == 0 {
		config.MaxLineLength = 4096
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Minute
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

// ListenAndServe starts the IMAP server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("imap: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// ListenAndServeTLS starts the IMAP server with implicit TLS.
func (s *Server) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("imap: TLS config is required for TLS server")
	}
	listener, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("imap: failed to listen TLS: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them.
func (s *Server) Serve(listener net.Listener) error {
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}
	s.listener = listener

	s.config.Logger.Info("IMAP server started",
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
// accepting, connected clients get a BYE, and in-flight connections are
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

// sendShutdownResponse sends an untagged BYE to all connected clients
// and closes them.
func (s *Server) sendShutdownResponse() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.connections {
		conn.writeUntagged("BYE %s Service shutting down", s.config.Hostname)
		_ = conn.conn.Close()
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()

	sess := &session.Info{
		ID:           utils.GenerateID(),
		Protocol:     session.ProtocolIMAP,
		State:        session.StateNotAuthenticated,
		Capabilities: append([]string(nil), capabilities...),
		RemoteAddr:   netConn.RemoteAddr().String(),
	}
	s.config.Registry.Add(sess)

	conn := newConnection(netConn, sess, s.config.MaxLineLength)

	s.connMu.Lock()
	s.connections[conn] = struct{}{}
	s.connMu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues("imap").Inc()
	metrics.OpenConnections.WithLabelValues("imap").Inc()

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
		metrics.OpenConnections.WithLabelValues("imap").Dec()
		_ = conn.Close()
	}()

	logger.Info("client connected")

	conn.writeUntagged("OK %s IMAP4rev1 Service Ready [%s]", s.config.Hostname, sess.ID)

	s.commandLoop(conn, logger)

	logger.Info("client disconnected")
}

// commandLoop processes commands from the client until LOGOUT, EOF, or
// a read failure.
func (s *Server) commandLoop(conn *Connection, logger *slog.Logger) {
	for {
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
				conn.writeUntagged("BYE Timeout waiting for command")
				return
			}
			if errors.Is(err, wireio.ErrLineTooLong) {
				conn.writeUntagged("BAD Line too long")
				continue
			}
			logger.Error("read error", slog.Any("error", err))
			return
		}

		// Blank lines are tolerated between commands.
		if line == "" {
			continue
		}

		s.config.Registry.Touch(conn.sess.ID)

		req, err := ParseRequest(line)
		if err != nil {
			conn.writeUntagged("BAD Invalid command format")
			continue
		}

		logger.Debug("command received",
			slog.String("tag", req.Tag),
			slog.String("cmd", req.Command),
		)

		s.dispatch(conn, req, logger)

		if conn.closing {
			return
		}
	}
}
