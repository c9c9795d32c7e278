package transport

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"

	"github.com/fugu-mppt/fugu-go/log2"
)

const (
	DefaultBaud       = 115200
	serialReadTimeout = 200 * time.Millisecond
)

// Serial talks to a board over a local serial device.
// Path may contain a glob pattern (typical for USB CDC devices that
// enumerate with changing suffixes); it is resolved at Open time.
type Serial struct {
	lk   sync.Mutex
	path string
	baud int
	port serial.Port
	log  *log2.Log
}

var _ Transport = (*Serial)(nil)

func NewSerial(path string, log *log2.Log) *Serial {
	return &Serial{path: path, baud: DefaultBaud, log: log}
}

func (self *Serial) Open() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.port != nil {
		return nil
	}

	path := self.path
	if hasGlobMeta(path) {
		matches, err := filepath.Glob(path)
		if err != nil {
			return errors.Annotatef(err, "serial glob %s", path)
		}
		if len(matches) == 0 {
			return errors.NotFoundf("serial port pattern %s", path)
		}
		path = matches[0]
	}

	self.log.Infof("opening serial port %s", path)
	port, err := serial.Open(path, &serial.Mode{BaudRate: self.baud})
	if err != nil {
		return errors.Annotatef(err, "serial open %s", path)
	}
	if err = port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return errors.Annotatef(err, "serial %s set read timeout", path)
	}
	self.port = port
	return nil
}

func (self *Serial) Read() ([]byte, error) {
	self.lk.Lock()
	port := self.port
	self.lk.Unlock()
	if port == nil {
		return nil, nil
	}

	buf := make([]byte, 1024)
	n, err := port.Read(buf)
	if err != nil {
		// port gone mid-read, surface empty and let the caller probe liveness
		self.log.Debugf("serial read err=%v", err)
		return nil, nil
	}
	if n == 0 {
		// read timeout
		return nil, nil
	}
	return buf[:n], nil
}

func (self *Serial) Write(p []byte) (int, error) {
	self.lk.Lock()
	port := self.port
	self.lk.Unlock()
	if port == nil {
		return 0, errors.Errorf("serial write: transport is closed")
	}
	n, err := port.Write(p)
	return n, errors.Annotate(err, "serial write")
}

func (self *Serial) Close() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.port == nil {
		return nil
	}
	err := self.port.Close()
	self.port = nil
	return errors.Annotate(err, "serial close")
}

func hasGlobMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
