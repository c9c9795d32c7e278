package fugu

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fugu-mppt/fugu-go/helpers"
)

const (
	readIdleSleep  = 10 * time.Millisecond
	readErrSleep   = 200 * time.Millisecond
	decodeErrSleep = 1 * time.Second

	// An unterminated fragment this old is treated as a whole line.
	// Prompts and crash output do not always end in a newline.
	fragmentFlushAfter = 500 * time.Millisecond
)

// Lines carrying any of these always surface at warning level, even
// with debug logging off.
var alarmWords = []string{
	"shutdown", "error", "warn", "disabled", "enabled",
	"failed", "reset", "boot", "backtrace", "exception",
}

// ESP-IDF colors its own warning/error console output.
const (
	ansiWarnPrefix = "\x1b[0;33mW "
	ansiErrPrefix  = "\x1b[0;33mE "
)

// readLoop is the single background worker per device. It never dies
// from a bad line; only Close stops it. Every failure path backs off
// and retries.
//
// A chunk off the transport may end mid-line (serial delivers as soon
// as any bytes arrive, TCP splits at arbitrary boundaries), so the
// unterminated remainder is carried into the next chunk instead of
// being handled as a line of its own.
func (self *Device) readLoop() {
	defer self.alive.Done()
	var rem []byte
	var remSince time.Time
	for self.alive.IsRunning() {
		chunk, err := self.tr.Read()
		if err != nil {
			self.log.Debugf("%sread err=%v", self.opt.Prefix, err)
			self.sleep(readErrSleep)
			continue
		}
		if len(chunk) == 0 {
			if len(rem) > 0 && time.Since(remSince) > fragmentFlushAfter {
				self.handleRaw(rem)
				rem = nil
			}
			self.sleep(readIdleSleep)
			continue
		}
		rem = append(rem, chunk...)
		remSince = time.Now()
		for {
			i := bytes.IndexByte(rem, '\n')
			if i < 0 {
				break
			}
			self.handleRaw(rem[:i])
			rem = rem[i+1:]
		}
		if len(rem) == 0 {
			rem = nil
		}
	}
}

func (self *Device) handleRaw(raw []byte) {
	if !utf8.Valid(raw) {
		self.log.Errorf("%sdecode error %x", self.opt.Prefix, raw)
		self.sleep(decodeErrSleep)
		return
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	self.handleLine(line)
}

func (self *Device) handleLine(line string) {
	if self.opt.Verbose {
		self.log.Infof("%s%s", self.opt.Prefix, line)
	} else if isAlarmLine(line) {
		self.log.Warningf("%sser: %s", self.opt.Prefix, line)
	}

	if snap, ok := ParseTelemetry(line); ok {
		changed := false
		helpers.WithLock(&self.stateLk, func() {
			self.vin, self.vout = snap.Vin, snap.Vout
			self.tempNTC, self.tempMCU = snap.TempNTC, snap.TempMCU
			self.rssi = snap.RSSI
			if self.pwm != snap.PwmState {
				// single-struct swap, readers never see a torn state
				self.pwm = snap.PwmState
				changed = true
			}
		})
		if !changed {
			// heartbeat with no new PWM info, not worth forwarding
			return
		}
	}

	// known spurious sensor warning, drop before it reaches anyone
	if strings.Contains(line, "ina22x") && strings.Contains(line, "timeout") {
		return
	}

	self.lines.Push(line)
	if cb := self.opt.OnMessage; cb != nil {
		cb(line)
	}
	self.log.Debugf("%s%s: %s", self.opt.Prefix, modName, line)
}

// sleep returns false when interrupted by Close.
func (self *Device) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-self.alive.StopChan():
		return false
	}
}

func isAlarmLine(line string) bool {
	for _, w := range alarmWords {
		if strings.Contains(line, w) {
			return true
		}
	}
	return strings.Contains(line, ansiWarnPrefix) || strings.Contains(line, ansiErrPrefix)
}
