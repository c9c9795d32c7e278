// Package fugu drives a fugu power-converter board over its
// line-oriented console protocol, on a serial link or a telnet-like
// TCP socket.
//
// One Device owns one transport and one background reader goroutine.
// The reader parses the asynchronous telemetry stream into shared
// state and forwards everything else to a line queue consumed by the
// command/acknowledgment protocol. Commands and state reads come from
// the caller's goroutine; a single outstanding CommandAck at a time is
// the caller's responsibility.
package fugu

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/fugu-mppt/fugu-go/helpers"
	"github.com/fugu-mppt/fugu-go/log2"
	"github.com/fugu-mppt/fugu-go/transport"
)

const modName = "fugu"

const (
	DefaultTelnetPort = "23"

	DefaultAckRounds    = 20
	DefaultAckPoll      = 100 * time.Millisecond
	DefaultRampMaxStep  = 10
	DefaultRampStepWait = 50 * time.Millisecond
	DefaultTailSize     = 20

	pwmPollInterval = 100 * time.Millisecond
)

type Options struct {
	// Exactly one of Transport, Addr, SerialPort selects the medium.
	Transport  transport.Transport
	Addr       string // TCP host or host:port, port defaults to 23
	SerialPort string // device path, may contain a glob pattern

	Prefix  string // prepended to every log record of this device
	Verbose bool   // echo every console line at info level
	NoBlock bool   // do not wait for first telemetry in NewDevice

	// OnMessage observes every forwarded line, called synchronously
	// from the reader loop in stream order.
	OnMessage func(line string)

	Log *log2.Log

	// Hand-tuned for board response times. Zero means default.
	AckRounds    int
	AckPoll      time.Duration
	RampMaxStep  int
	RampStepWait time.Duration
	TailSize     int
}

type Device struct {
	opt   Options
	tr    transport.Transport
	log   *log2.Log
	alive *alive.Alive
	lines *lineBuffer

	stateLk sync.Mutex
	pwm     PwmState
	vin     float64
	vout    float64
	tempNTC float64
	tempMCU float64
	rssi    int
}

func NewDevice(opt Options) (*Device, error) {
	if opt.AckRounds == 0 {
		opt.AckRounds = DefaultAckRounds
	}
	if opt.AckPoll == 0 {
		opt.AckPoll = DefaultAckPoll
	}
	if opt.RampMaxStep == 0 {
		opt.RampMaxStep = DefaultRampMaxStep
	}
	if opt.RampStepWait == 0 {
		opt.RampStepWait = DefaultRampStepWait
	}
	if opt.TailSize == 0 {
		opt.TailSize = DefaultTailSize
	}

	tr := opt.Transport
	switch {
	case tr != nil:
	case opt.Addr != "":
		tr = transport.NewSocket(withTelnetPort(opt.Addr), opt.Log)
	case opt.SerialPort != "":
		tr = transport.NewSerial(opt.SerialPort, opt.Log)
	default:
		return nil, errors.NotValidf("%s: need Transport, Addr or SerialPort", modName)
	}

	if err := tr.Open(); err != nil {
		return nil, errors.Annotate(err, modName+" open")
	}

	self := &Device{
		opt:     opt,
		tr:      tr,
		log:     opt.Log,
		alive:   alive.NewAlive(),
		lines:   newLineBuffer(opt.TailSize),
		vin:     math.NaN(),
		vout:    math.NaN(),
		tempNTC: math.NaN(),
		tempMCU: math.NaN(),
	}
	self.alive.Add(1)
	go self.readLoop()

	if !opt.NoBlock {
		self.WaitForPwmState()
	}
	return self, nil
}

// Close stops the reader loop, waits for it, then closes the
// transport. Idempotent. Must not race an in-flight blocking call on
// the same device.
func (self *Device) Close() error {
	self.alive.Stop()
	self.alive.Wait()
	helpers.WithLock(&self.stateLk, func() { self.pwm = PwmState{} })
	return errors.Trace(self.tr.Close())
}

func (self *Device) PwmState() PwmState {
	self.stateLk.Lock()
	defer self.stateLk.Unlock()
	return self.pwm
}

func (self *Device) Voltages() (vin, vout float64) {
	self.stateLk.Lock()
	defer self.stateLk.Unlock()
	return self.vin, self.vout
}

func (self *Device) Temperatures() (ntc, mcu float64) {
	self.stateLk.Lock()
	defer self.stateLk.Unlock()
	return self.tempNTC, self.tempMCU
}

func (self *Device) RSSI() int {
	self.stateLk.Lock()
	defer self.stateLk.Unlock()
	return self.rssi
}

// Tail returns the most recent forwarded lines, oldest first.
func (self *Device) Tail() []string { return self.lines.Tail() }

// WaitForPwmState discards the current PWM state and blocks until the
// reader loop repopulates it from a fresh telemetry line. Returns
// early if the device is closed meanwhile.
func (self *Device) WaitForPwmState() {
	helpers.WithLock(&self.stateLk, func() { self.pwm = PwmState{} })
	for self.alive.IsRunning() && !self.PwmState().Known() {
		time.Sleep(pwmPollInterval)
	}
}

// Write sends a raw command string as-is, no acknowledgment.
func (self *Device) Write(cmd string) error {
	return errors.Trace(helpers.WriteAll(self.tr, []byte(cmd)))
}

// CommandAck sends cmd and blocks until the board replies with a line
// containing "OK: <cmd>". Stale queued lines are discarded first;
// lines arriving before the acknowledgment are skipped. On timeout the
// skipped lines go to the warning log and the returned error (a
// juju timeout kind) carries the command and the last line seen.
func (self *Device) CommandAck(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	self.lines.Clear()

	if err := self.Write(cmd + "\n"); err != nil {
		return errors.Trace(err)
	}

	okResp := "OK: " + cmd
	last := ""
	seen := false
	for round := 0; round < self.opt.AckRounds; round++ {
		for {
			line, ok := self.lines.Pop()
			if !ok {
				break
			}
			last, seen = line, true
			if strings.Contains(strings.TrimSpace(line), okResp) {
				return nil
			}
		}
		time.Sleep(self.opt.AckPoll)
	}

	if !seen && self.lines.Len() == 0 {
		self.log.Infof("%snever received anything", self.opt.Prefix)
	}
	for {
		line, ok := self.lines.Pop()
		if !ok {
			break
		}
		self.log.Warningf("%sser: %s", self.opt.Prefix, line)
	}
	return errors.Timeoutf("unexpected response %q for command %q", last, cmd)
}

// SetD ramps the PWM control counter to target with the default step
// delay. Steps are clamped to RampMaxStep in the direction of travel;
// target 0 is written directly so shutdown is immediate. Streams raw
// `dc` writes, deliberately outside the ack protocol.
func (self *Device) SetD(target int) error {
	return self.SetDWait(target, self.opt.RampStepWait)
}

func (self *Device) SetDWait(target int, stepWait time.Duration) error {
	cur := self.PwmState().Ctrl
	for cur != target {
		delta := target - cur
		if target != 0 && abs(delta) > self.opt.RampMaxStep {
			if delta > 0 {
				delta = self.opt.RampMaxStep
			} else {
				delta = -self.opt.RampMaxStep
			}
		}
		cur += delta
		if err := self.Write(fmt.Sprintf("dc %d\n", cur)); err != nil {
			return errors.Trace(err)
		}
		wait := stepWait
		if delta < 0 {
			// decreasing power is safe, hurry up
			wait = stepWait / 4
		}
		time.Sleep(wait)
	}
	self.log.Debugf("%sset pwm ctrl=%d", self.opt.Prefix, target)
	return nil
}

// ManualPWM true holds the current duty cycle under manual control,
// false returns the board to its MPPT tracker.
func (self *Device) ManualPWM(en bool) error {
	if en {
		d := self.PwmState().Ctrl
		if d < 1 {
			d = 1
		}
		return self.Write(fmt.Sprintf("dc %d\n", d))
	}
	return self.Write("mppt\n")
}

func (self *Device) WifiPower(on bool) error {
	if on {
		return self.Write("wifi on\n")
	}
	return self.Write("wifi off\n")
}

type SyncMode uint8

const (
	SyncOff SyncMode = iota
	SyncOn
	SyncForced
)

// SyncRectEnable switches synchronous rectification.
func (self *Device) SyncRectEnable(m SyncMode) error {
	switch m {
	case SyncForced:
		return self.CommandAck("sync forced")
	case SyncOn:
		return self.CommandAck("sync 1")
	}
	return self.CommandAck("sync 0")
}

// IdealDiodeEnable switches the backflow ("ideal diode") MOSFET.
func (self *Device) IdealDiodeEnable(en bool) error {
	if en {
		return self.CommandAck("bf-enable")
	}
	return self.CommandAck("bf-disable")
}

// ConfValue asks the board to echo a persisted configuration value and
// scans the replay tail, newest first, for the echo. A value that
// never showed up within the tail window is (,"",false), not an error.
func (self *Device) ConfValue(file, key string) (string, bool, error) {
	if err := self.CommandAck(fmt.Sprintf("get-config %s %s", file, key)); err != nil {
		return "", false, errors.Trace(err)
	}
	re := regexp.MustCompile(`Conf '/littlefs/conf/` + regexp.QuoteMeta(file) + `:` + regexp.QuoteMeta(key) + `' = '(.*)'`)
	tail := self.lines.Tail()
	for i := len(tail) - 1; i >= 0; i-- {
		if m := re.FindStringSubmatch(tail[i]); m != nil {
			return m[1], true, nil
		}
	}
	return "", false, nil
}

func withTelnetPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultTelnetPort)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
