package tele

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fugu-mppt/fugu-go/fugu"
	"github.com/fugu-mppt/fugu-go/log2"
)

type fakeToken struct{ done chan struct{} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return nil }

func doneToken() *fakeToken {
	ch := make(chan struct{})
	close(ch)
	return &fakeToken{done: ch}
}

type fakePub struct {
	topic   string
	payload []byte
}

// fakeMqtt records publishes and hands out one shared token.
type fakeMqtt struct {
	lk   sync.Mutex
	pubs []fakePub
	tok  *fakeToken
}

func (f *fakeMqtt) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.lk.Lock()
	defer f.lk.Unlock()
	b, _ := payload.([]byte)
	f.pubs = append(f.pubs, fakePub{topic: topic, payload: b})
	return f.tok
}

func (f *fakeMqtt) published() []fakePub {
	f.lk.Lock()
	defer f.lk.Unlock()
	out := make([]fakePub, len(f.pubs))
	copy(out, f.pubs)
	return out
}

func (f *fakeMqtt) Connect() mqtt.Token      { return f.tok }
func (f *fakeMqtt) Disconnect(quiesce uint)  {}
func (f *fakeMqtt) IsConnected() bool        { return true }
func (f *fakeMqtt) IsConnectionOpen() bool   { return true }
func (f *fakeMqtt) AddRoute(topic string, cb mqtt.MessageHandler) {}
func (f *fakeMqtt) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return f.tok
}
func (f *fakeMqtt) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	return f.tok
}
func (f *fakeMqtt) Unsubscribe(topics ...string) mqtt.Token { return f.tok }
func (f *fakeMqtt) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func testClient(t *testing.T, tok *fakeToken) (*Client, *fakeMqtt) {
	t.Helper()
	f := &fakeMqtt{tok: tok}
	c := &Client{
		opt: Options{TopicPrefix: "fugu"},
		m:   f,
		log: log2.NewTest(t, log2.LDebug),
	}
	return c, f
}

func TestSnapshotPayloadFull(t *testing.T) {
	t.Parallel()

	snap, ok := fugu.ParseTelemetry(`V=73.6/27.25 I=3.75/ 9.88A 276.3W 53℃54℃ CCM(H|L|Lm)= 790|1257|1257 rssi=-48`)
	require.True(t, ok)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(SnapshotPayload(snap), &got))
	assert.Equal(t, "CCM", got["mode"])
	assert.Equal(t, float64(790), got["ctrl"])
	assert.Equal(t, float64(1257), got["sync_max"])
	assert.Equal(t, 73.6, got["vin"])
	assert.Equal(t, float64(-48), got["rssi"])
}

func TestSnapshotPayloadPartialIsNull(t *testing.T) {
	t.Parallel()

	snap, ok := fugu.ParseTelemetry("DCM(H|L|Lm)=1|2|3 rssi=-55")
	require.True(t, ok)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(SnapshotPayload(snap), &got))
	assert.Equal(t, "DCM", got["mode"])
	assert.Nil(t, got["vin"])
	assert.Nil(t, got["temp_ntc"])
}

func TestHandleLineRouting(t *testing.T) {
	t.Parallel()
	c, f := testClient(t, doneToken())

	c.HandleLine(`V=73.6/27.25 I=3.75/ 9.88A 276.3W 53℃54℃ CCM(H|L|Lm)= 790|1257|1257 rssi=-48`)
	c.HandleLine("OK: sync 1")

	pubs := f.published()
	require.Len(t, pubs, 2)
	assert.Equal(t, "fugu/telemetry", pubs[0].topic)
	assert.Contains(t, string(pubs[0].payload), `"mode":"CCM"`)
	assert.Equal(t, "fugu/console", pubs[1].topic)
	assert.Equal(t, "OK: sync 1", string(pubs[1].payload))
}

func TestPublishNeverBlocksReader(t *testing.T) {
	// not parallel, overrides the publish wait cap
	saved := publishWaitTimeout
	publishWaitTimeout = 10 * time.Millisecond
	defer func() { publishWaitTimeout = saved }()

	// token that never completes: a hung broker
	c, f := testClient(t, &fakeToken{done: make(chan struct{})})

	start := time.Now()
	for i := 0; i < 100; i++ {
		c.HandleLine("console chatter")
	}
	assert.Less(t, time.Since(start), time.Second, "HandleLine must be fire-and-forget")
	assert.Len(t, f.published(), 100)

	// the waiter goroutines give up at the cap instead of piling up
	time.Sleep(50 * time.Millisecond)
}

func TestNewClientNeedsBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Options{})
	assert.True(t, errors.IsNotValid(err), "err=%v", err)
}
