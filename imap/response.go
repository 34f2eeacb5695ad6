package imap

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/mailroomlabs/mailroom/session"
)

// Status is a tagged-response condition.
type Status string

const (
	StatusOK  Status = "OK"
	StatusNo  Status = "NO"
	StatusBad Status = "BAD"
)

// Connection represents a single client connection, owned by one
// goroutine.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	sess    *session.Info
	closing bool

	// lastStatus is the status of the most recent completion line,
	// recorded for command accounting.
	lastStatus Status
}

func newConnection(netConn net.Conn, sess *session.Info, bufSize int) *Connection {
	return &Connection{
		conn:   netConn,
		reader: bufio.NewReaderSize(netConn, bufSize),
		writer: bufio.NewWriter(netConn),
		sess:   sess,
	}
}

// RemoteAddr returns the client's network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// writeUntagged sends one "* ..." data line.
func (c *Connection) writeUntagged(format string, args ...any) {
	c.writeLine("* " + fmt.Sprintf(format, args...))
}

// writeTagged sends the completion line for a command.
func (c *Connection) writeTagged(tag string, status Status, message string) {
	c.lastStatus = status
	c.writeLine(fmt.Sprintf("%s %s %s", tag, status, message))
}

func (c *Connection) writeLine(line string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Minute))
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return
	}
	_ = c.writer.Flush()
}
