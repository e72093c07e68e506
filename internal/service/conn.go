package service

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rtext-lang/rtext/internal/wire"
)

// writeSlice bounds each write attempt of the loop. A client that does not
// read only ever costs the loop this long per iteration.
const writeSlice = 2 * time.Millisecond

// maxBacklog is the most output queued for a client before it is dropped
const maxBacklog = 2 * wire.MaxMessageSize

var errBacklog = errors.New("client is not reading")

// conn is a client connection. Only the loop goroutine touches it, except
// for the reader goroutine which only reads nc.
type conn struct {
	id      int
	nc      net.Conn
	decoder wire.Decoder
	out     []byte
	backlog int
}

func newConn(id int, nc net.Conn) *conn {
	return &conn{id: id, nc: nc, backlog: maxBacklog}
}

func (c *conn) send(m wire.Message) error {
	frame, err := wire.Encode(m)
	if err != nil {
		return err
	}
	c.out = append(c.out, frame...)
	return nil
}

// flush writes pending output, waiting at most timeout. Output left over
// after a timeout stays queued for the next flush.
func (c *conn) flush(timeout time.Duration) error {
	if len(c.out) == 0 {
		return nil
	}
	if len(c.out) > c.backlog {
		return fmt.Errorf("%w: %d bytes queued", errBacklog, len(c.out))
	}

	if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	n, err := c.nc.Write(c.out)
	c.out = c.out[n:]
	if len(c.out) == 0 {
		c.out = nil
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil
	}
	return err
}
