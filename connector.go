package redipubsub

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"
)

// connResult is what dialing a node hands back to the state machine:
// an open framed socket and the peer address it connected to.
type connResult struct {
	conn   net.Conn
	reader *bufio.Reader
	peer   string
}

// dial opens a connection to cfg's address, applying TLS when
// configured: a plain net.Dialer with TCP_NODELAY tuning on the
// resulting connection, with a TLS branch for Config.TLS.
func dial(cfg Config) (connResult, error) {
	dialer := net.Dialer{Timeout: cfg.dialTimeout()}

	var conn net.Conn
	var err error
	if cfg.TLS != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", cfg.addr(), cfg.TLS)
	} else {
		conn, err = dialer.Dial("tcp", cfg.addr())
	}
	if err != nil {
		return connResult{}, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	} else if tlsConn, ok := conn.(*tls.Conn); ok {
		if tcp, ok := tlsConn.NetConn().(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
	}

	return connResult{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, cfg.bufferSize()),
		peer:   conn.RemoteAddr().String(),
	}, nil
}

// writeDeadline applies cfg's command timeout (if any) to conn as a
// write deadline before a command pipeline is flushed.
func writeDeadline(conn net.Conn, cfg Config) {
	if d := cfg.CommandTimeout; d != 0 {
		conn.SetWriteDeadline(time.Now().Add(d))
	}
}
