package smtp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	wireio "github.com/mailroomlabs/mailroom/io"
	"github.com/mailroomlabs/mailroom/metrics"
	"github.com/mailroomlabs/mailroom/mime"
)

// precondition is the transaction state a verb requires. The envelope's
// presence (and its recipient list) is the only state that matters.
type precondition int

const (
	preNone precondition = iota
	// preNoEnvelope rejects the verb when a transaction is already open (MAIL).
	preNoEnvelope
	// preEnvelope requires an open transaction (RCPT).
	preEnvelope
	// preRecipients requires an open transaction with at least one recipient (DATA).
	preRecipients
)

type commandSpec struct {
	pre    precondition
	handle func(s *Server, conn *Connection, args string, logger *slog.Logger) *Response
}

// commandTable maps each verb to its precondition and handler. Dispatch
// is pure table lookup; sequencing errors never reach a handler.
var commandTable = map[Command]commandSpec{
	CmdHelo: {preNone, (*Server).handleHello},
	CmdEhlo: {preNone, (*Server).handleHello},
	CmdMail: {preNoEnvelope, (*Server).handleMail},
	CmdRcpt: {preEnvelope, (*Server).handleRcpt},
	CmdData: {preRecipients, (*Server).handleData},
	CmdRset: {preNone, (*Server).handleRset},
	CmdNoop: {preNone, (*Server).handleNoop},
	CmdQuit: {preNone, (*Server).handleQuit},
	CmdVrfy: {preNone, (*Server).handleVrfy},
	CmdExpn: {preNone, (*Server).handleExpn},
	CmdHelp: {preNone, (*Server).handleHelp},
}

// dispatch routes one parsed command through the table.
func (s *Server) dispatch(conn *Connection, cmd Command, args string, logger *slog.Logger) *Response {
	spec, ok := commandTable[cmd]
	if !ok {
		return respond(CodeCommandUnrecognized, "Unknown command")
	}
	if resp := checkPrecondition(conn, spec.pre); resp != nil {
		return resp
	}
	return spec.handle(s, conn, args, logger)
}

// checkPrecondition returns the 503 reply for an out-of-sequence verb,
// or nil when the transaction state allows it.
func checkPrecondition(conn *Connection, pre precondition) *Response {
	switch pre {
	case preNoEnvelope:
		if conn.envelope != nil {
			return respond(CodeBadSequence, "Sender already specified")
		}
	case preEnvelope:
		if conn.envelope == nil {
			return respond(CodeBadSequence, "Need MAIL command")
		}
	case preRecipients:
		if conn.envelope == nil {
			return respond(CodeBadSequence, "Need MAIL command")
		}
		if len(conn.envelope.Recipients) == 0 {
			return respond(CodeBadSequence, "Need RCPT command")
		}
	}
	return nil
}

// handleHello greets the client. HELO and EHLO behave identically: no
// extensions are advertised, so the single-line form serves both.
func (s *Server) handleHello(conn *Connection, args string, logger *slog.Logger) *Response {
	if args == "" {
		args = "unknown"
	}
	return respond(CodeOK, s.config.Hostname+" Hello "+args)
}

// handleMail opens a new transaction. The null path "<>" is accepted as
// an empty sender.
func (s *Server) handleMail(conn *Connection, args string, logger *slog.Logger) *Response {
	sender, ok := cleanAddress(args)
	if !ok {
		return respond(CodeSyntaxError, "Sender address required")
	}

	conn.envelope = &Envelope{
		Sender:     sender,
		ReceivedAt: time.Now(),
	}
	return respond(CodeOK, "Sender OK")
}

// handleRcpt appends a recipient to the open transaction.
func (s *Server) handleRcpt(conn *Connection, args string, logger *slog.Logger) *Response {
	recipient, ok := cleanAddress(args)
	if !ok || recipient == "" {
		return respond(CodeSyntaxError, "Recipient address required")
	}

	conn.envelope.Recipients = append(conn.envelope.Recipients, recipient)
	return respond(CodeOK, "Recipient OK")
}

// handleData runs the DATA phase: prompt, read the dot-terminated
// block, decompose, and deliver. The envelope is discarded whether
// delivery succeeds or not; a transaction never survives DATA.
func (s *Server) handleData(conn *Connection, args string, logger *slog.Logger) *Response {
	envelope := conn.envelope
	defer conn.reset()

	s.writeResponse(conn, Response{
		Code:    CodeStartMailInput,
		Message: "End data with <CR><LF>.<CR><LF>",
	})

	raw, err := wireio.ReadData(conn.conn, conn.reader, wireio.DataOptions{
		LineTimeout: s.config.DataLineTimeout,
		MaxLines:    s.config.DataMaxLines,
	})
	if err != nil {
		logger.Warn("data read aborted",
			slog.Any("error", err),
			slog.Int("partial_bytes", len(raw)),
		)
		switch {
		case errors.Is(err, wireio.ErrDataTimeout):
			return respond(CodeCommandUnrecognized, "Timeout reading message data")
		case errors.Is(err, wireio.ErrTooManyLines):
			return respond(CodeCommandUnrecognized, "Message has too many lines")
		case errors.Is(err, wireio.ErrLineTooLong):
			return respond(CodeCommandUnrecognized, "Line too long in message data")
		default:
			return respond(CodeCommandUnrecognized, "Error reading message data")
		}
	}

	metrics.MessagesReceivedTotal.Inc()

	msg := mime.Decompose(raw, envelope.ReceivedAt)
	logger.Info("message received",
		slog.String("sender", envelope.Sender),
		slog.Int("recipients", len(envelope.Recipients)),
		slog.String("subject", msg.Subject),
		slog.Int("size", len(raw)),
	)

	ctx, cancel := context.WithTimeout(s.ctx, s.config.DeliveryTimeout)
	defer cancel()

	if err := s.config.Pipeline.Deliver(ctx, envelope.Sender, envelope.Recipients, msg); err != nil {
		logger.Error("delivery failed", slog.Any("error", err))
		return respond(CodeCommandUnrecognized, "Error processing message")
	}

	return respond(CodeOK, "Message accepted for delivery")
}

func (s *Server) handleRset(conn *Connection, args string, logger *slog.Logger) *Response {
	conn.reset()
	return respond(CodeOK, "Reset OK")
}

func (s *Server) handleNoop(conn *Connection, args string, logger *slog.Logger) *Response {
	return respond(CodeOK, "OK")
}

func (s *Server) handleQuit(conn *Connection, args string, logger *slog.Logger) *Response {
	conn.closing = true
	return respond(CodeServiceClosing, "Bye")
}

// handleVrfy declines to verify without revealing account existence.
func (s *Server) handleVrfy(conn *Connection, args string, logger *slog.Logger) *Response {
	return respond(CodeCannotVerify, "User not verified")
}

func (s *Server) handleExpn(conn *Connection, args string, logger *slog.Logger) *Response {
	return respond(CodeCannotVerify, "List not expanded")
}

func (s *Server) handleHelp(conn *Connection, args string, logger *slog.Logger) *Response {
	return respond(CodeHelpMessage, "Help message")
}
