package transport

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"

	"github.com/fugu-mppt/fugu-go/helpers/atomic_clock"
	"github.com/fugu-mppt/fugu-go/log2"
)

const (
	DefaultConnectTimeout = 4 * time.Second
	socketReadTimeout     = 1 * time.Second

	// Middleboxes (NAT, telnet relays) drop sessions that stay idle.
	// Probe after this much silence to keep the stream mapped and to
	// provoke an error from a dead peer.
	idleProbeAfter = 1 * time.Second

	// Activity this recent counts as proof of life without touching
	// the socket at all.
	aliveWindow = 2 * time.Second
)

// idleProbe is a telnet NOP: IAC followed by a no-operation command.
// The board ignores it; its only job is to exercise the connection.
var idleProbe = []byte{0xff, 0xf1}

// Socket connects to a board exposing its console on a TCP port.
type Socket struct {
	lk             sync.Mutex
	addr           string
	connectTimeout time.Duration
	conn           net.Conn
	last           atomic_clock.Clock
	log            *log2.Log
}

var _ Transport = (*Socket)(nil)

func NewSocket(addr string, log *log2.Log) *Socket {
	return &Socket{addr: addr, connectTimeout: DefaultConnectTimeout, log: log}
}

func (self *Socket) Open() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.conn != nil {
		return nil
	}

	self.log.Infof("connecting to %s", self.addr)
	conn, err := net.DialTimeout("tcp", self.addr, self.connectTimeout)
	if err != nil {
		return errors.Annotatef(err, "socket connect %s", self.addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
	}
	self.conn = conn
	self.last.SetNow()
	return nil
}

func (self *Socket) Read() ([]byte, error) {
	conn := self.getConn()
	if conn == nil {
		return nil, nil
	}

	// A probe that goes through on purpose does not refresh last: the
	// write only reaches the local buffer, it proves nothing about the
	// peer, so CheckConnection must still peek after idle.
	if atomic_clock.Since(&self.last) > idleProbeAfter {
		if _, err := conn.Write(idleProbe); err != nil {
			// Broken pipe here means the peer is gone. Close internally;
			// the caller observes a stream of empty reads and asks
			// CheckConnection for the verdict.
			self.log.Debugf("socket idle probe err=%v", err)
			_ = self.Close()
			return nil, nil
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if n > 0 {
		self.last.SetNow()
		return buf[:n], nil
	}
	if err != nil {
		if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
			return nil, nil
		}
		if err == io.EOF || isConnReset(err) {
			self.log.Debugf("socket read closed err=%v", err)
			_ = self.Close()
			return nil, nil
		}
		return nil, errors.Annotate(err, "socket read")
	}
	return nil, nil
}

func (self *Socket) Write(p []byte) (int, error) {
	conn := self.getConn()
	if conn == nil {
		return 0, errors.Errorf("socket write: transport is closed")
	}
	n, err := conn.Write(p)
	if err == nil {
		self.last.SetNow()
	}
	return n, errors.Annotate(err, "socket write")
}

func (self *Socket) Close() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.conn == nil {
		return nil
	}
	err := self.conn.Close()
	self.conn = nil
	return errors.Annotate(err, "socket close")
}

// CheckConnection reports whether the peer still looks alive.
// Fast path: any activity within the alive window. Otherwise peek the
// socket without consuming data, so it is safe to call while the reader
// loop keeps reading. The unexpected-error branch deliberately fails
// open: a stale "alive" is recoverable, a false "dead" kills a working
// session.
func (self *Socket) CheckConnection() bool {
	if atomic_clock.Since(&self.last) < aliveWindow {
		return true
	}
	conn := self.getConn()
	if conn == nil {
		return false
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return true
	}

	raw, err := tcp.SyscallConn()
	if err != nil {
		return true
	}
	var n int
	var perr error
	cerr := raw.Control(func(fd uintptr) {
		buf := make([]byte, 1)
		n, _, perr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
	})
	if cerr != nil {
		return true
	}

	switch {
	case perr == nil && n == 0:
		// orderly shutdown from the peer
		self.log.Debugf("socket peek: peer closed")
		_ = self.Close()
		return false
	case perr == unix.EAGAIN || perr == unix.EWOULDBLOCK:
		return true
	case perr == unix.ECONNRESET || perr == unix.EIO:
		self.log.Debugf("socket peek err=%v", perr)
		_ = self.Close()
		return false
	case perr != nil:
		// unknown failure: fail open
		self.log.Debugf("socket peek unexpected err=%v", perr)
		return true
	}
	return true
}

func (self *Socket) getConn() net.Conn {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.conn
}

func isConnReset(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "broken pipe")
}
