// Package state holds the run configuration of one controller process.
package state

import (
	"os"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/fugu-mppt/fugu-go/fugu"
	"github.com/fugu-mppt/fugu-go/log2"
)

type Config struct {
	Transport struct {
		Kind   string `hcl:"kind"` // serial|socket
		Serial struct {
			Port string `hcl:"port"`
		} `hcl:"serial"`
		Socket struct {
			Addr string `hcl:"addr"`
		} `hcl:"socket"`
	} `hcl:"transport"`

	Device struct {
		Prefix         string `hcl:"prefix"`
		Verbose        bool   `hcl:"verbose"`
		AckRounds      int    `hcl:"ack_rounds"`
		AckPollMs      int    `hcl:"ack_poll_ms"`
		RampStepWaitMs int    `hcl:"ramp_step_wait_ms"`
		TailSize       int    `hcl:"tail_size"`
	} `hcl:"device"`

	Tele struct {
		Enable      bool   `hcl:"enable"`
		Broker      string `hcl:"broker"`
		TopicPrefix string `hcl:"topic_prefix"`
	} `hcl:"tele"`
}

func ReadConfig(b []byte) (*Config, error) {
	c := &Config{}
	if err := hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotate(err, "config unmarshal")
	}
	return c, nil
}

func ReadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "config read %s", path)
	}
	return ReadConfig(b)
}

func MustReadConfigFile(log *log2.Log, path string) *Config {
	c, err := ReadConfigFile(path)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// DeviceOptions translates the file into fugu.Options. The returned
// options still need a Log.
func (self *Config) DeviceOptions() (fugu.Options, error) {
	opt := fugu.Options{
		Prefix:       self.Device.Prefix,
		Verbose:      self.Device.Verbose,
		AckRounds:    self.Device.AckRounds,
		AckPoll:      time.Duration(self.Device.AckPollMs) * time.Millisecond,
		RampStepWait: time.Duration(self.Device.RampStepWaitMs) * time.Millisecond,
		TailSize:     self.Device.TailSize,
	}
	switch self.Transport.Kind {
	case "serial":
		if self.Transport.Serial.Port == "" {
			return opt, errors.NotValidf("config transport.serial.port is empty")
		}
		opt.SerialPort = self.Transport.Serial.Port
	case "socket":
		if self.Transport.Socket.Addr == "" {
			return opt, errors.NotValidf("config transport.socket.addr is empty")
		}
		opt.Addr = self.Transport.Socket.Addr
	default:
		return opt, errors.NotValidf("config transport.kind=%q valid: serial, socket", self.Transport.Kind)
	}
	return opt, nil
}
