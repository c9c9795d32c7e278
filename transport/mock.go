package transport

// Scriptable in-memory transport for tests of code built on Transport.

import (
	"sync"
	"time"
)

type ChanTransport struct {
	// Rx is consumed by Read. Tests feed device output here.
	Rx chan []byte

	// OnWrite, when set, observes every Write synchronously. Handy to
	// script request/response exchanges.
	OnWrite func(p []byte)

	lk     sync.Mutex
	writes []string
	closed bool
}

var _ Transport = (*ChanTransport)(nil)

func NewChanTransport() *ChanTransport {
	return &ChanTransport{Rx: make(chan []byte, 64)}
}

func (self *ChanTransport) Open() error { return nil }

func (self *ChanTransport) Read() ([]byte, error) {
	select {
	case b, ok := <-self.Rx:
		if !ok {
			return nil, nil
		}
		return b, nil
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (self *ChanTransport) Write(p []byte) (int, error) {
	self.lk.Lock()
	self.writes = append(self.writes, string(p))
	self.lk.Unlock()
	if self.OnWrite != nil {
		self.OnWrite(p)
	}
	return len(p), nil
}

func (self *ChanTransport) Close() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.closed = true
	return nil
}

// FeedLine queues one newline-terminated line for Read.
func (self *ChanTransport) FeedLine(s string) { self.Rx <- []byte(s + "\n") }

// Feed queues raw bytes for Read.
func (self *ChanTransport) Feed(b []byte) { self.Rx <- b }

// Writes returns a copy of everything written so far.
func (self *ChanTransport) Writes() []string {
	self.lk.Lock()
	defer self.lk.Unlock()
	out := make([]string, len(self.writes))
	copy(out, self.writes)
	return out
}

func (self *ChanTransport) Closed() bool {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.closed
}
