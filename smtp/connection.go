package smtp

import (
	"bufio"
	"net"
	"time"

	"github.com/mailroomlabs/mailroom/session"
)

// Envelope is the state of one in-flight mail transaction. It exists
// from an accepted MAIL until the DATA phase completes (or RSET/QUIT
// discards it); its presence is the only transaction state a session
// carries.
type Envelope struct {
	Sender     string
	Recipients []string
	ReceivedAt time.Time
}

// Connection represents a single client connection. It is owned by one
// goroutine; nothing here is safe for concurrent use.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	sess     *session.Info
	envelope *Envelope
	closing  bool
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

// reset discards any in-flight transaction.
func (c *Connection) reset() {
	c.envelope = nil
}
