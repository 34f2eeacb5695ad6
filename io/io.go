// Package io implements the wire-level readers shared by the SMTP and
// IMAP servers: a permissive line reader and the bounded multi-line
// reader used for the SMTP DATA phase.
package io

import (
	"bufio"
	"bytes"
	"errors"
	stdio "io"
	"net"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrLineTooLong is returned when a single line exceeds the allowed length.
	ErrLineTooLong = errors.New("wire: line too long")
	// ErrDataTimeout is returned when the DATA-phase per-line timeout expires.
	ErrDataTimeout = errors.New("wire: timeout reading message data")
	// ErrTooManyLines is returned when a DATA block exceeds the line-count bound.
	ErrTooManyLines = errors.New("wire: too many lines in message data")
)

// maxDataLineLength bounds a single line inside a DATA block. Message
// content is allowed far longer lines than command input.
const maxDataLineLength = 1 << 20

// ReadLine reads one line terminated by CRLF or bare LF. The terminator
// and a trailing CR are stripped, and invalid UTF-8 bytes are replaced
// rather than treated as an error. Lines longer than max yield
// ErrLineTooLong after draining the remainder to keep the protocol in
// sync. A stream ending without a terminator returns the tail bytes
// together with the read error, so DATA-mode callers can keep them.
func ReadLine(reader *bufio.Reader, max int) (string, error) {
	// FAST PATH: the whole line fits in the bufio buffer (zero-copy view).
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return trimAndDecode(line, max)
	}

	if err != bufio.ErrBufferFull {
		return decodeTail(line, max, err)
	}

	// SLOW PATH: accumulate chunks until the newline shows up.
	var buf []byte
	buf = append(buf, line...)

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max+2 {
			// The terminator is still unread only on ErrBufferFull;
			// draining after any other outcome would eat the next line.
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return "", ErrLineTooLong
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return decodeTail(buf, max, err)
		}
	}

	return trimAndDecode(buf, max)
}

// trimAndDecode strips the line terminator, enforces max, and replaces
// invalid bytes.
func trimAndDecode(b []byte, max int) (string, error) {
	// b ends in '\n' because ReadSlice returned nil error.
	b = b[:len(b)-1]
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	if len(b) > max {
		return "", ErrLineTooLong
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// decodeTail decodes a line the stream ended in the middle of. The
// bytes are handed back alongside the read error; callers that cannot
// use a partial line just see the error.
func decodeTail(b []byte, max int, err error) (string, error) {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	if len(b) > max {
		return "", ErrLineTooLong
	}
	if utf8.Valid(b) {
		return string(b), err
	}
	return strings.ToValidUTF8(string(b), "�"), err
}

// drainLine discards the rest of the current line to recover protocol
// synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// DataOptions configures a DATA-phase read.
type DataOptions struct {
	// LineTimeout is the maximum wait for each individual line.
	LineTimeout time.Duration
	// MaxLines bounds the number of lines accepted before the read is
	// aborted, limiting memory use for never-terminating input.
	MaxLines int
}

// DefaultDataOptions returns the DATA-read limits used in production.
func DefaultDataOptions() DataOptions {
	return DataOptions{
		LineTimeout: 10 * time.Second,
		MaxLines:    100000,
	}
}

// ReadData reads an SMTP DATA block: lines up to a terminating line
// consisting of a single ".", with dot-stuffing removed (a leading ".."
// becomes "."). Lines are reassembled with CRLF.
//
// The per-line deadline is set on conn before every read. On deadline
// expiry the partial buffer is returned together with ErrDataTimeout.
// EOF before the terminator ends the read with whatever was buffered,
// including an unterminated final line, and a nil error. Exceeding
// MaxLines returns the partial buffer with ErrTooManyLines, and a
// single content line over the length bound aborts with ErrLineTooLong.
func ReadData(conn net.Conn, reader *bufio.Reader, opts DataOptions) ([]byte, error) {
	if opts.LineTimeout <= 0 {
		opts.LineTimeout = 10 * time.Second
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = 100000
	}

	var buf bytes.Buffer
	lines := 0

	for {
		if err := conn.SetReadDeadline(time.Now().Add(opts.LineTimeout)); err != nil {
			return buf.Bytes(), err
		}

		line, err := ReadLine(reader, maxDataLineLength)
		if err != nil {
			if errors.Is(err, stdio.EOF) || errors.Is(err, stdio.ErrUnexpectedEOF) {
				if line != "" && line != "." {
					buf.WriteString(strings.TrimPrefix(line, "."))
					buf.WriteString("\r\n")
				}
				return buf.Bytes(), nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return buf.Bytes(), ErrDataTimeout
			}
			return buf.Bytes(), err
		}

		// End-of-message marker.
		if line == "." {
			return buf.Bytes(), nil
		}

		// Undo dot-stuffing (RFC 5321 Section 4.5.2).
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}

		lines++
		if lines > opts.MaxLines {
			return buf.Bytes(), ErrTooManyLines
		}

		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
}
