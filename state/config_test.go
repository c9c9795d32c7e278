package state

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
transport {
  kind = "socket"
  socket {
    addr = "192.168.178.222:23"
  }
}
device {
  prefix = "rig1 "
  verbose = true
  ack_rounds = 30
  ack_poll_ms = 50
  ramp_step_wait_ms = 150
  tail_size = 40
}
tele {
  enable = true
  broker = "tcp://broker.local:1883"
  topic_prefix = "fugu/rig1"
}
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	c, err := ReadConfig([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "socket", c.Transport.Kind)
	assert.Equal(t, "192.168.178.222:23", c.Transport.Socket.Addr)
	assert.True(t, c.Tele.Enable)
	assert.Equal(t, "fugu/rig1", c.Tele.TopicPrefix)

	opt, err := c.DeviceOptions()
	require.NoError(t, err)
	assert.Equal(t, "192.168.178.222:23", opt.Addr)
	assert.Equal(t, "rig1 ", opt.Prefix)
	assert.True(t, opt.Verbose)
	assert.Equal(t, 30, opt.AckRounds)
	assert.Equal(t, 50*time.Millisecond, opt.AckPoll)
	assert.Equal(t, 150*time.Millisecond, opt.RampStepWait)
	assert.Equal(t, 40, opt.TailSize)
}

func TestReadConfigSerial(t *testing.T) {
	t.Parallel()

	c, err := ReadConfig([]byte(`
transport {
  kind = "serial"
  serial {
    port = "/dev/cu.usbmodem*"
  }
}
`))
	require.NoError(t, err)
	opt, err := c.DeviceOptions()
	require.NoError(t, err)
	assert.Equal(t, "/dev/cu.usbmodem*", opt.SerialPort)
	assert.Equal(t, "", opt.Addr)
}

func TestConfigInvalid(t *testing.T) {
	t.Parallel()

	_, err := ReadConfig([]byte(`transport { kind = `))
	assert.Error(t, err)

	c, err := ReadConfig([]byte(`transport { kind = "carrier-pigeon" }`))
	require.NoError(t, err)
	_, err = c.DeviceOptions()
	assert.True(t, errors.IsNotValid(err), "err=%v", err)

	c, err = ReadConfig([]byte(`transport { kind = "serial" }`))
	require.NoError(t, err)
	_, err = c.DeviceOptions()
	assert.True(t, errors.IsNotValid(err), "err=%v", err)
}
