package fugu

import "sync"

// lineBuffer holds non-telemetry lines coming off the reader loop.
// Two views over the same feed:
//   - queue: unbounded FIFO, drained destructively by CommandAck,
//     cleared at the start of every command;
//   - tail: fixed-size ring of the most recent lines for retrospective
//     lookups (config echo), never cleared.
//
// Single producer (reader loop), one consumer at a time. The lock also
// makes clear-then-poll atomic against concurrent appends.
type lineBuffer struct {
	lk       sync.Mutex
	queue    []string
	tail     []string
	tailSize int
}

func newLineBuffer(tailSize int) *lineBuffer {
	return &lineBuffer{tailSize: tailSize}
}

func (self *lineBuffer) Push(line string) {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.queue = append(self.queue, line)
	self.tail = append(self.tail, line)
	if over := len(self.tail) - self.tailSize; over > 0 {
		self.tail = self.tail[over:]
	}
}

func (self *lineBuffer) Pop() (string, bool) {
	self.lk.Lock()
	defer self.lk.Unlock()
	if len(self.queue) == 0 {
		return "", false
	}
	line := self.queue[0]
	self.queue = self.queue[1:]
	return line, true
}

func (self *lineBuffer) Clear() {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.queue = nil
}

func (self *lineBuffer) Len() int {
	self.lk.Lock()
	defer self.lk.Unlock()
	return len(self.queue)
}

// Tail returns a copy oldest to newest.
func (self *lineBuffer) Tail() []string {
	self.lk.Lock()
	defer self.lk.Unlock()
	out := make([]string, len(self.tail))
	copy(out, self.tail)
	return out
}
