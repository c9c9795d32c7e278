package fugu

import (
	"math"
	"regexp"
	"strconv"
)

// Sample status line emitted by the board once per second:
// V=73.6/27.25 I=3.75/ 9.88A 276.3W 53℃54℃ 454sps  0㎅/s CCM(H|L|Lm)= 790|1257|1257 st= MANU,0 lag=3292㎲ N=1192849 rssi=0

type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeDCM
	ModeCCM
)

func (m Mode) String() string {
	switch m {
	case ModeDCM:
		return "DCM"
	case ModeCCM:
		return "CCM"
	}
	return "unknown"
}

// PwmState is the slice of telemetry that gates change detection:
// converter mode plus the three PWM counters. Comparable with ==.
// The zero value means "no telemetry parsed yet".
type PwmState struct {
	Mode    Mode
	Ctrl    int
	Sync    int
	SyncMax int
}

func (s PwmState) Known() bool { return s.Mode != ModeUnknown }

// Snapshot is one parsed telemetry line. Voltages, temperatures and
// signal strength ride along but do not participate in change
// detection.
type Snapshot struct {
	PwmState
	Vin     float64
	Vout    float64
	TempNTC float64
	TempMCU float64
	RSSI    int
}

const reFloat = `(?:\d+\.?\d*(?:e\d+\.?\d*)?|nan)`

// The skeleton is what makes a line telemetry: mode keyword, the three
// PWM counters and rssi. Voltages and temperatures are optional;
// boards emit partial lines during boot and sensor faults. A partial
// line still parses, absent floats default to NaN. This is a contract,
// not an accident of the regexp.
var (
	reSkeleton = regexp.MustCompile(`([CD]CM)\(H\|L\|Lm\)=\s*([0-9]+)\|\s*([0-9]+)\|\s*([0-9]+)\b.*?rssi=\s*(-?[0-9]+)`)
	reVoltage  = regexp.MustCompile(`V=\s*([0-9.]+)\s*/\s*([0-9.]+)`)
	reTemp     = regexp.MustCompile(`[0-9.]+W (` + reFloat + `)℃(` + reFloat + `)℃`)
)

// ParseTelemetry matches one trimmed line against the telemetry
// grammar. Returns ok=false for anything else; a non-telemetry line is
// not an error, it is a plain console line.
func ParseTelemetry(line string) (Snapshot, bool) {
	m := reSkeleton.FindStringSubmatch(line)
	if m == nil {
		return Snapshot{}, false
	}

	snap := Snapshot{
		Vin:     math.NaN(),
		Vout:    math.NaN(),
		TempNTC: math.NaN(),
		TempMCU: math.NaN(),
	}
	if m[1] == "CCM" {
		snap.Mode = ModeCCM
	} else {
		snap.Mode = ModeDCM
	}
	snap.Ctrl = mustInt(m[2])
	snap.Sync = mustInt(m[3])
	snap.SyncMax = mustInt(m[4])
	snap.RSSI = mustInt(m[5])

	if v := reVoltage.FindStringSubmatch(line); v != nil {
		snap.Vin = parseFloat(v[1])
		snap.Vout = parseFloat(v[2])
	}
	if tm := reTemp.FindStringSubmatch(line); tm != nil {
		snap.TempNTC = parseFloat(tm[1])
		snap.TempMCU = parseFloat(tm[2])
	}
	return snap, true
}

func mustInt(s string) int {
	x, err := strconv.Atoi(s)
	if err != nil {
		// digits-only capture group
		panic("code error telemetry int " + s)
	}
	return x
}

func parseFloat(s string) float64 {
	if s == "" || s == "nan" {
		return math.NaN()
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return x
}
