// Package tele is an optional MQTT uplink for device telemetry.
// It hangs off the device's push callback: telemetry lines become JSON
// on <prefix>/telemetry, everything else is mirrored raw on
// <prefix>/console. Loss-tolerant by design, QoS 0, the board does not
// care whether anyone listens.
package tele

import (
	"encoding/json"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/fugu-mppt/fugu-go/fugu"
	"github.com/fugu-mppt/fugu-go/log2"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultTopicPrefix    = "fugu"
	DefaultClientID       = "fugu-ctl"
)

// Caps how long a publish goroutine may linger behind a slow broker.
var publishWaitTimeout = 5 * time.Second

type Options struct {
	BrokerURL   string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	Log         *log2.Log
}

type Client struct {
	opt Options
	m   mqtt.Client
	log *log2.Log
}

func NewClient(opt Options) (*Client, error) {
	if opt.BrokerURL == "" {
		return nil, errors.NotValidf("tele BrokerURL is empty")
	}
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = DefaultTopicPrefix
	}
	if opt.ClientID == "" {
		opt.ClientID = DefaultClientID
	}

	mo := mqtt.NewClientOptions().
		AddBroker(opt.BrokerURL).
		SetClientID(opt.ClientID).
		SetAutoReconnect(true).
		SetWill(opt.TopicPrefix+"/online", "0", 1, true)
	if opt.Username != "" {
		mo.SetUsername(opt.Username)
		mo.SetPassword(opt.Password)
	}

	self := &Client{opt: opt, m: mqtt.NewClient(mo), log: opt.Log}
	tok := self.m.Connect()
	if !tok.WaitTimeout(DefaultConnectTimeout) {
		return nil, errors.Timeoutf("tele connect broker=%s", opt.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, errors.Annotatef(err, "tele connect broker=%s", opt.BrokerURL)
	}
	self.m.Publish(opt.TopicPrefix+"/online", 1, true, "1")
	return self, nil
}

// HandleLine fits fugu.Options.OnMessage. It must not block the
// reader loop, so publishes are fire-and-forget.
func (self *Client) HandleLine(line string) {
	if snap, ok := fugu.ParseTelemetry(line); ok {
		self.publish("telemetry", SnapshotPayload(snap))
		return
	}
	self.publish("console", []byte(line))
}

func (self *Client) publish(sub string, payload []byte) {
	tok := self.m.Publish(self.opt.TopicPrefix+"/"+sub, 0, false, payload)
	go func() {
		if !tok.WaitTimeout(publishWaitTimeout) {
			self.log.Debugf("tele publish %s timeout", sub)
			return
		}
		if err := tok.Error(); err != nil {
			self.log.Debugf("tele publish %s err=%v", sub, err)
		}
	}()
}

func (self *Client) Close() {
	tok := self.m.Publish(self.opt.TopicPrefix+"/online", 1, true, "0")
	tok.WaitTimeout(time.Second)
	self.m.Disconnect(250)
}

type snapshotPayload struct {
	Mode    string   `json:"mode"`
	Ctrl    int      `json:"ctrl"`
	Sync    int      `json:"sync"`
	SyncMax int      `json:"sync_max"`
	Vin     *float64 `json:"vin"`
	Vout    *float64 `json:"vout"`
	TempNTC *float64 `json:"temp_ntc"`
	TempMCU *float64 `json:"temp_mcu"`
	RSSI    int      `json:"rssi"`
}

// SnapshotPayload renders one snapshot as JSON. NaN readings (absent
// in partial telemetry lines) become null, encoding/json refuses NaN.
func SnapshotPayload(snap fugu.Snapshot) []byte {
	p := snapshotPayload{
		Mode:    snap.Mode.String(),
		Ctrl:    snap.Ctrl,
		Sync:    snap.Sync,
		SyncMax: snap.SyncMax,
		Vin:     finitePtr(snap.Vin),
		Vout:    finitePtr(snap.Vout),
		TempNTC: finitePtr(snap.TempNTC),
		TempMCU: finitePtr(snap.TempMCU),
		RSSI:    snap.RSSI,
	}
	b, err := json.Marshal(&p)
	if err != nil {
		// all fields are marshal-safe
		panic("code error tele snapshot marshal: " + err.Error())
	}
	return b
}

func finitePtr(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
