package transport

import (
	"context"
	"net"
	"time"
)

// countingDialer opens TCP connections, reports each new one and applies the
// write timeout to the resulting conn.
type countingDialer struct {
	dialer       *net.Dialer
	writeTimeout time.Duration
	onDial       func()
}

func (d *countingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if d.onDial != nil {
		d.onDial()
	}
	if d.writeTimeout <= 0 {
		return conn, nil
	}
	return &writeDeadlineConn{Conn: conn, timeout: d.writeTimeout}, nil
}

// writeDeadlineConn arms a fresh write deadline before every Write. Reads are
// untouched so idle pooled connections are not torn down by the read loop.
type writeDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeDeadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}
