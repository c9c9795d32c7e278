package fugu

import (
	"time"

	"github.com/juju/errors"
)

// Voltage window the buck rig supply settles into before the ramp may
// proceed.
const (
	rigVinMin = 70.0
	rigVinMax = 80.0
)

// RigSequenceBuck runs the bring-up sequence for the buck power-loop
// test rig: radio off, manual PWM, everything to a safe low duty,
// wait for the input supply to settle, then staged ramps up to
// targetD with synchronous rectification forced at the end.
func (self *Device) RigSequenceBuck(targetD int) error {
	if err := self.WifiPower(false); err != nil {
		return errors.Trace(err)
	}
	if err := self.ManualPWM(true); err != nil {
		return errors.Trace(err)
	}
	// leave forced mode before the shutdown steps
	if err := self.SyncRectEnable(SyncOn); err != nil {
		return errors.Trace(err)
	}
	if err := self.SetD(1); err != nil {
		return errors.Trace(err)
	}
	if err := self.SyncRectEnable(SyncOff); err != nil {
		return errors.Trace(err)
	}
	if err := self.IdealDiodeEnable(false); err != nil {
		return errors.Trace(err)
	}

	for {
		vin, _ := self.Voltages()
		if vin >= rigVinMin && vin <= rigVinMax {
			break
		}
		self.log.Infof("%swaiting for input voltage to converge vin=%.1f", self.opt.Prefix, vin)
		if !self.sleep(1 * time.Second) {
			return errors.Errorf("device closed during rig sequence")
		}
	}

	if err := self.SetD(400); err != nil {
		return errors.Trace(err)
	}
	if err := self.SyncRectEnable(SyncOn); err != nil {
		return errors.Trace(err)
	}
	if err := self.IdealDiodeEnable(true); err != nil {
		return errors.Trace(err)
	}
	time.Sleep(1 * time.Second)
	if err := self.SetD(600); err != nil {
		return errors.Trace(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := self.SetDWait(targetD, 150*time.Millisecond); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(self.SyncRectEnable(SyncForced))
}
