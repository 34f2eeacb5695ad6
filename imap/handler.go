package imap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailroomlabs/mailroom/metrics"
	"github.com/mailroomlabs/mailroom/session"
	"github.com/mailroomlabs/mailroom/store"
)

// stateMask encodes the session states a verb is legal in.
type stateMask uint8

const (
	maskNotAuthenticated stateMask = 1 << iota
	maskAuthenticated
	maskSelected

	maskAny = maskNotAuthenticated | maskAuthenticated | maskSelected
)

func maskFor(state session.State) stateMask {
	switch state {
	case session.StateNotAuthenticated:
		return maskNotAuthenticated
	case session.StateAuthenticated:
		return maskAuthenticated
	case session.StateSelected:
		return maskSelected
	default:
		return 0
	}
}

type commandSpec struct {
	states stateMask
	// denied is the BAD message sent when the session is in a state
	// outside the mask.
	denied string
	handle func(s *Server, conn *Connection, req *Request, logger *slog.Logger)
}

// commandTable is the legal-command-per-state matrix. Dispatch is pure
// table lookup: state checks never live inside handlers.
var commandTable = map[string]commandSpec{
	"CAPABILITY":   {maskAny, "", (*Server).handleCapability},
	"NOOP":         {maskAny, "", (*Server).handleNoop},
	"LOGOUT":       {maskAny, "", (*Server).handleLogout},
	"STARTTLS":     {maskNotAuthenticated, "STARTTLS not allowed in current state", (*Server).handleStartTLS},
	"AUTHENTICATE": {maskNotAuthenticated, "Already authenticated", (*Server).handleAuthenticate},
	"LOGIN":        {maskNotAuthenticated, "Already authenticated", (*Server).handleLogin},
	"SELECT":       {maskAuthenticated | maskSelected, "Not authenticated", (*Server).handleSelect},
	"LIST":         {maskAuthenticated | maskSelected, "Not authenticated", (*Server).handleList},
	"FETCH":        {maskSelected, "No mailbox selected", (*Server).handleFetch},
	"SEARCH":       {maskSelected, "No mailbox selected", (*Server).handleSearch},
	"STORE":        {maskSelected, "No mailbox selected", (*Server).handleStore},
	"EXPUNGE":      {maskSelected, "No mailbox selected", (*Server).handleExpunge},
}

// dispatch routes one parsed request through the table.
func (s *Server) dispatch(conn *Connection, req *Request, logger *slog.Logger) {
	spec, ok := commandTable[req.Command]
	if !ok {
		conn.writeTagged(req.Tag, StatusBad, "Unknown command")
		// Client-supplied verbs stay out of the label set.
		metrics.IMAPCommandsTotal.WithLabelValues("UNKNOWN", "bad").Inc()
		return
	}
	if maskFor(conn.sess.State)&spec.states == 0 {
		conn.writeTagged(req.Tag, StatusBad, spec.denied)
		metrics.IMAPCommandsTotal.WithLabelValues(req.Command, "bad").Inc()
		return
	}
	spec.handle(s, conn, req, logger)
	// The result mirrors the completion line the handler wrote.
	metrics.IMAPCommandsTotal.WithLabelValues(req.Command, strings.ToLower(string(conn.lastStatus))).Inc()
}

func (s *Server) handleCapability(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeUntagged("CAPABILITY %s", strings.Join(conn.sess.Capabilities, " "))
	conn.writeTagged(req.Tag, StatusOK, "CAPABILITY completed")
}

func (s *Server) handleNoop(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeTagged(req.Tag, StatusOK, "NOOP completed")
}

// handleLogout says goodbye from any state and closes the connection.
func (s *Server) handleLogout(conn *Connection, req *Request, logger *slog.Logger) {
	s.config.Registry.SetState(conn.sess.ID, session.StateLogout)
	conn.writeUntagged("BYE %s logging out", s.config.Hostname)
	conn.writeTagged(req.Tag, StatusOK, "LOGOUT completed")
	conn.closing = true
}

// handleStartTLS acknowledges the negotiation request. The actual TLS
// upgrade is not performed; clients needing TLS use the implicit-TLS
// listener.
func (s *Server) handleStartTLS(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeTagged(req.Tag, StatusOK, "Begin TLS negotiation now")
}

// handleAuthenticate accepts PLAIN and LOGIN mechanisms. In development
// mode any initial response succeeds and binds the dev account;
// otherwise authentication is refused.
func (s *Server) handleAuthenticate(conn *Connection, req *Request, logger *slog.Logger) {
	if len(req.Args) == 0 || !isSupportedMechanism(req.Args[0]) {
		conn.writeTagged(req.Tag, StatusBad, "Unsupported authentication method")
		return
	}

	if !s.config.DevelopmentMode {
		conn.writeTagged(req.Tag, StatusNo, "Authentication failed")
		return
	}

	s.config.Registry.SetUser(conn.sess.ID, "dev_user")
	s.config.Registry.SetState(conn.sess.ID, session.StateAuthenticated)
	logger.Info("session authenticated", slog.String("user", "dev_user"))
	conn.writeTagged(req.Tag, StatusOK, "Authentication successful")
}

func isSupportedMechanism(mech string) bool {
	return strings.EqualFold(mech, "PLAIN") || strings.EqualFold(mech, "LOGIN")
}

// handleLogin binds the supplied username. In development mode any
// password is accepted; otherwise the login is refused.
func (s *Server) handleLogin(conn *Connection, req *Request, logger *slog.Logger) {
	if len(req.Args) < 2 {
		conn.writeTagged(req.Tag, StatusBad, "LOGIN requires username and password")
		return
	}

	if !s.config.DevelopmentMode {
		conn.writeTagged(req.Tag, StatusNo, "Login failed")
		return
	}

	username := strings.Trim(req.Args[0], `"`)
	s.config.Registry.SetUser(conn.sess.ID, username)
	s.config.Registry.SetState(conn.sess.ID, session.StateAuthenticated)
	logger.Info("session authenticated", slog.String("user", username))
	conn.writeTagged(req.Tag, StatusOK, "LOGIN completed")
}

// handleSelect queries the email store for mailbox metadata and
// transitions the session to Selected.
func (s *Server) handleSelect(conn *Connection, req *Request, logger *slog.Logger) {
	if len(req.Args) == 0 {
		conn.writeTagged(req.Tag, StatusBad, "SELECT requires mailbox name")
		return
	}
	mailbox := strings.Trim(req.Args[0], `"`)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	emails, err := s.config.Store.GetEmailsForMailbox(ctx, store.UserID(conn.sess.UserID), mailbox)
	if err != nil {
		conn.writeTagged(req.Tag, StatusNo, fmt.Sprintf("SELECT failed: %v", err))
		return
	}

	exists := len(emails)
	unseen := 0
	for _, e := range emails {
		if !e.IsRead {
			unseen++
		}
	}

	s.config.Registry.SetMailbox(conn.sess.ID, mailbox)
	s.config.Registry.SetState(conn.sess.ID, session.StateSelected)

	conn.writeUntagged("%d EXISTS", exists)
	conn.writeUntagged("0 RECENT")
	conn.writeUntagged("OK [UNSEEN %d]", unseen)
	conn.writeUntagged("OK [UIDVALIDITY 1]")
	conn.writeUntagged("OK [UIDNEXT %d]", exists+1)
	conn.writeUntagged(`FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
	conn.writeTagged(req.Tag, StatusOK, "[READ-WRITE] SELECT completed")
}

// handleList emits the fixed mailbox set.
func (s *Server) handleList(conn *Connection, req *Request, logger *slog.Logger) {
	for _, mailbox := range mailboxes {
		conn.writeUntagged(`LIST (\HasNoChildren) "/" "%s"`, mailbox)
	}
	conn.writeTagged(req.Tag, StatusOK, "LIST completed")
}

// handleFetch is a stub: it emits one placeholder line per request
// rather than real message data.
func (s *Server) handleFetch(conn *Connection, req *Request, logger *slog.Logger) {
	if len(req.Args) < 2 {
		conn.writeTagged(req.Tag, StatusBad, "FETCH requires message set and data items")
		return
	}
	set := req.Args[0]
	conn.writeUntagged(`%s FETCH (FLAGS (\Seen) UID %s RFC822.SIZE 0)`, set, set)
	conn.writeTagged(req.Tag, StatusOK, "FETCH completed")
}

// handleSearch is a stub with a fixed result set.
func (s *Server) handleSearch(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeUntagged("SEARCH 1 2 3 4 5")
	conn.writeTagged(req.Tag, StatusOK, "SEARCH completed")
}

func (s *Server) handleStore(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeTagged(req.Tag, StatusOK, "STORE completed")
}

func (s *Server) handleExpunge(conn *Connection, req *Request, logger *slog.Logger) {
	conn.writeTagged(req.Tag, StatusOK, "EXPUNGE completed")
}
