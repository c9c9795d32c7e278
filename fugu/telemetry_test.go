package fugu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLine = `V=73.6/27.25 I=3.75/ 9.88A 276.3W 53℃54℃ 454sps  0㎅/s CCM(H|L|Lm)= 790|1257|1257 st= MANU,0 lag=3292㎲ N=1192849 rssi=0`

func TestParseTelemetryFull(t *testing.T) {
	t.Parallel()

	snap, ok := ParseTelemetry(sampleLine)
	require.True(t, ok)
	assert.Equal(t, ModeCCM, snap.Mode)
	assert.Equal(t, 790, snap.Ctrl)
	assert.Equal(t, 1257, snap.Sync)
	assert.Equal(t, 1257, snap.SyncMax)
	assert.Equal(t, 0, snap.RSSI)
	assert.InDelta(t, 73.6, snap.Vin, 1e-9)
	assert.InDelta(t, 27.25, snap.Vout, 1e-9)
	assert.InDelta(t, 53, snap.TempNTC, 1e-9)
	assert.InDelta(t, 54, snap.TempMCU, 1e-9)
}

func TestParseTelemetryPartial(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
		mode Mode
		pwm  [3]int
		rssi int
	}{
		{"skeleton-only", "DCM(H|L|Lm)=1|2|3 rssi=-55", ModeDCM, [3]int{1, 2, 3}, -55},
		{"no-volts", "276.3W 53℃54℃ CCM(H|L|Lm)= 790|1257|1257 rssi=-70", ModeCCM, [3]int{790, 1257, 1257}, -70},
		{"spaced-counters", "DCM(H|L|Lm)=  4|  5|  6 st= MPPT,1 rssi=12", ModeDCM, [3]int{4, 5, 6}, 12},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			snap, ok := ParseTelemetry(c.line)
			require.True(t, ok)
			assert.Equal(t, c.mode, snap.Mode)
			assert.Equal(t, c.pwm[0], snap.Ctrl)
			assert.Equal(t, c.pwm[1], snap.Sync)
			assert.Equal(t, c.pwm[2], snap.SyncMax)
			assert.Equal(t, c.rssi, snap.RSSI)
		})
	}
}

func TestParseTelemetryPartialDefaults(t *testing.T) {
	t.Parallel()

	snap, ok := ParseTelemetry("DCM(H|L|Lm)=1|2|3 rssi=-55")
	require.True(t, ok)
	assert.True(t, math.IsNaN(snap.Vin))
	assert.True(t, math.IsNaN(snap.Vout))
	assert.True(t, math.IsNaN(snap.TempNTC))
	assert.True(t, math.IsNaN(snap.TempMCU))
}

func TestParseTelemetryNanTemps(t *testing.T) {
	t.Parallel()

	snap, ok := ParseTelemetry(`V=12.1/24.0 I=1/1A 12.0W nan℃nan℃ CCM(H|L|Lm)=10|20|30 rssi=-60`)
	require.True(t, ok)
	assert.True(t, math.IsNaN(snap.TempNTC))
	assert.True(t, math.IsNaN(snap.TempMCU))
	assert.InDelta(t, 12.1, snap.Vin, 1e-9)
}

func TestParseTelemetryNoMatch(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"",
		"OK: sync 1",
		"I (1234) fugu: boot complete",
		"Conf '/littlefs/conf/net:ssid' = 'home'",
		"V=73.6/27.25 no mode here rssi=0",
		"CCM(H|L|Lm)= 790|1257|1257", // rssi missing: not telemetry
	} {
		_, ok := ParseTelemetry(line)
		assert.False(t, ok, "line=%q", line)
	}
}

func TestPwmStateEquality(t *testing.T) {
	t.Parallel()

	a := PwmState{Mode: ModeCCM, Ctrl: 790, Sync: 1257, SyncMax: 1257}
	b := a
	assert.True(t, a == b)
	b.Sync++
	assert.False(t, a == b)

	assert.False(t, PwmState{}.Known())
	assert.True(t, a.Known())
}
