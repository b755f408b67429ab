package accessory

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/control"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/infrastructure/config"
	"github.com/nerrad567/portal-bridge/internal/portal/portaltest"
	"github.com/nerrad567/portal-bridge/internal/session"
)

type fakeTransport struct {
	started chan struct{}
	stopped chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{}, 1), stopped: make(chan struct{})}
}

func (f *fakeTransport) Start() { f.started <- struct{}{} }

func (f *fakeTransport) Stop() <-chan struct{} {
	close(f.stopped)
	return f.stopped
}

func key(id string) string { return command.DeviceKey(id, 1) }

func testDevices() []device.Device {
	table := command.DefaultTable()
	mk := func(id, index string, typ device.DeviceType) device.Device {
		return device.Device{
			Key:      key(id),
			ID:       id,
			Name:     id,
			Type:     typ,
			Page:     1,
			Index:    index,
			Commands: table.Render(string(typ), index, 1),
			State:    typ.InitialState(),
		}
	}
	return []device.Device{
		mk("light-1", "1", device.TypeLight),
		mk("dimmer-1", "2", device.TypeDimmer),
		mk("blind-1", "3", device.TypeWindowCovering),
		mk("scene-1", "4", device.TypeScene),
		mk("temp-1", "5", device.TypeTemperatureSensor),
		mk("fan-1", "6", device.TypeFan),
		mk("misc-1", "7", device.TypeUnknown),
	}
}

type env struct {
	sync   *Sync
	reg    *device.Registry
	portal *portaltest.Portal

	mu      sync.Mutex
	changes []device.StateChange
}

func newEnv(t *testing.T, poll config.PollConfig) *env {
	t.Helper()
	reg := device.NewRegistry(nil)
	if _, err := reg.Replace(context.Background(), testDevices()); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	portal := portaltest.New()
	mgr := session.NewManager(portal, session.Options{})
	plane := control.New(reg, mgr, control.Options{SceneReset: time.Hour})
	t.Cleanup(plane.Close)

	s, err := New(Options{
		Config:  config.HomeKitConfig{Name: "Test Bridge", Pin: "03145154", Manufacturer: "Acme", Poll: poll},
		Control: plane,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e := &env{sync: s, reg: reg, portal: portal}
	reg.AddObserver(s)
	reg.AddObserver(device.ObserverFunc(func(_ context.Context, c device.StateChange) {
		e.mu.Lock()
		e.changes = append(e.changes, c)
		e.mu.Unlock()
	}))
	return e
}

func (e *env) lastChange() device.StateChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.changes) == 0 {
		return device.StateChange{}
	}
	return e.changes[len(e.changes)-1]
}

// value reads the characteristic of type typ on the accessory for k.
func (e *env) value(t *testing.T, k, typ string) any {
	t.Helper()
	it, ok := e.sync.items[k]
	if !ok {
		t.Fatalf("no accessory for %s", k)
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	for _, svc := range it.acc.GetServices() {
		for _, c := range svc.Characteristics {
			if c.Type == typ {
				return c.GetValue()
			}
		}
	}
	t.Fatalf("accessory %s has no characteristic %s", k, typ)
	return nil
}

func TestID(t *testing.T) {
	a := ID("light-1_page01")
	if a != ID("light-1_page01") {
		t.Error("ID() is not stable")
	}
	if a <= BridgeID {
		t.Errorf("ID() = %d, collides with reserved ids", a)
	}
	if a == ID("light-2_page01") {
		t.Error("distinct keys produced the same ID")
	}
}

func TestNew_BuildsSupportedDevices(t *testing.T) {
	e := newEnv(t, config.PollConfig{})

	if got := e.sync.Len(); got != 6 {
		t.Fatalf("Len() = %d, want 6 (unknown type skipped)", got)
	}
	if _, ok := e.sync.items[key("misc-1")]; ok {
		t.Error("unknown device was mapped")
	}

	tests := []struct {
		id  string
		typ hcaccessory.AccessoryType
	}{
		{"light-1", hcaccessory.TypeLightbulb},
		{"dimmer-1", hcaccessory.TypeLightbulb},
		{"blind-1", hcaccessory.TypeWindowCovering},
		{"scene-1", hcaccessory.TypeSwitch},
		{"temp-1", hcaccessory.TypeSensor},
		{"fan-1", hcaccessory.TypeFan},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			it := e.sync.items[key(tt.id)]
			if it.acc.Type != tt.typ {
				t.Errorf("type = %v, want %v", it.acc.Type, tt.typ)
			}
			if it.acc.ID != ID(key(tt.id)) {
				t.Errorf("accessory ID = %d, want %d", it.acc.ID, ID(key(tt.id)))
			}
		})
	}

	if got := e.value(t, key("dimmer-1"), characteristic.TypeBrightness); got != 0 {
		t.Errorf("dimmer brightness = %v, want 0", got)
	}
}

func TestNew_RequiresControl(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without control plane expected error")
	}
}

func TestPollInterval(t *testing.T) {
	poll := config.PollConfig{OnOff: time.Second, Position: 2 * time.Second, Temperature: 3 * time.Second}
	tests := []struct {
		typ  device.DeviceType
		want time.Duration
	}{
		{device.TypeLight, time.Second},
		{device.TypeDimmer, time.Second},
		{device.TypeFan, time.Second},
		{device.TypeScene, time.Second},
		{device.TypeWindowCovering, 2 * time.Second},
		{device.TypeTemperatureSensor, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := pollInterval(tt.typ, poll); got != tt.want {
			t.Errorf("pollInterval(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestOnStateChange_PushesValues(t *testing.T) {
	e := newEnv(t, config.PollConfig{})
	ctx := context.Background()

	if _, err := e.reg.UpdateState(ctx, key("light-1"), device.OnOff(true), device.SourceCommand); err != nil {
		t.Fatal(err)
	}
	if got := e.value(t, key("light-1"), characteristic.TypeOn); got != true {
		t.Errorf("light on = %v, want true", got)
	}

	if _, err := e.reg.UpdateState(ctx, key("blind-1"), device.Position(95, device.MotionOpening), device.SourceCommand); err != nil {
		t.Fatal(err)
	}
	if got := e.value(t, key("blind-1"), characteristic.TypeCurrentPosition); got != 95 {
		t.Errorf("blind position = %v, want 95", got)
	}
	if got := e.value(t, key("blind-1"), characteristic.TypePositionState); got != characteristic.PositionStateIncreasing {
		t.Errorf("blind position state = %v, want increasing", got)
	}

	if _, err := e.reg.UpdateState(ctx, key("temp-1"), device.Temperature(21.5), device.SourceDiscovery); err != nil {
		t.Fatal(err)
	}
	if got := e.value(t, key("temp-1"), characteristic.TypeCurrentTemperature); got != 21.5 {
		t.Errorf("temperature = %v, want 21.5", got)
	}
}

func TestRemoteWrites_GoThroughControl(t *testing.T) {
	e := newEnv(t, config.PollConfig{})

	e.sync.toggle(key("light-1"), true)
	if got := len(e.portal.Sent()); got != 1 {
		t.Fatalf("portal received %d commands, want 1", got)
	}
	c := e.lastChange()
	if c.Key != key("light-1") || c.Source != device.SourceHomeKit {
		t.Errorf("last change = %+v, want homekit change on light-1", c)
	}

	e.sync.position(key("blind-1"), 5)
	if c := e.lastChange(); c.State.Motion != device.MotionClosing {
		t.Errorf("blind motion = %s, want closing", c.State.Motion)
	}

	e.sync.trigger(key("scene-1"), false)
	if got := len(e.portal.Sent()); got != 2 {
		t.Errorf("switching a scene off sent a command (%d sent)", got)
	}
	e.sync.trigger(key("scene-1"), true)
	if got := e.value(t, key("scene-1"), characteristic.TypeOn); got != true {
		t.Errorf("scene switch = %v, want true", got)
	}
}

// charOf returns the characteristic of type typ on the accessory for k.
func (e *env) charOf(t *testing.T, k, typ string) *characteristic.Characteristic {
	t.Helper()
	for _, svc := range e.sync.items[k].acc.GetServices() {
		for _, c := range svc.Characteristics {
			if c.Type == typ {
				return c
			}
		}
	}
	t.Fatalf("accessory %s has no characteristic %s", k, typ)
	return nil
}

var _ transportFunc = ipTransport

func TestControllerWrites_ReachControl(t *testing.T) {
	e := newEnv(t, config.PollConfig{})
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	e.charOf(t, key("blind-1"), characteristic.TypeTargetPosition).UpdateValueFromConnection(95, conn)
	c := e.lastChange()
	if c.Key != key("blind-1") || c.State.Motion != device.MotionOpening || c.Source != device.SourceHomeKit {
		t.Fatalf("last change = %+v, want homekit opening on blind-1", c)
	}
	if got := e.value(t, key("blind-1"), characteristic.TypePositionState); got != characteristic.PositionStateIncreasing {
		t.Errorf("position state = %v, want increasing", got)
	}

	e.charOf(t, key("dimmer-1"), characteristic.TypeBrightness).UpdateValueFromConnection(40, conn)
	if c := e.lastChange(); c.Key != key("dimmer-1") || !c.State.On {
		t.Errorf("last change = %+v, want dimmer on", c)
	}
}

func TestRemoteWrite_FailureRestoresState(t *testing.T) {
	e := newEnv(t, config.PollConfig{})
	e.portal.FailSends(errors.New("portal down"))

	it := e.sync.items[key("fan-1")]
	it.update(device.OnOff(true))

	e.sync.toggle(key("fan-1"), true)
	if got := e.value(t, key("fan-1"), characteristic.TypeOn); got != false {
		t.Errorf("fan on = %v, want false after failed write", got)
	}
}

func TestStartStop_PollsState(t *testing.T) {
	e := newEnv(t, config.PollConfig{OnOff: 10 * time.Millisecond})
	ft := newFakeTransport()
	var gotCfg hc.Config
	var gotAccs int
	e.sync.newTransport = func(cfg hc.Config, _ *hcaccessory.Accessory, as ...*hcaccessory.Accessory) (hc.Transport, error) {
		gotCfg = cfg
		gotAccs = len(as)
		return ft, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.sync.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-ft.started:
	case <-time.After(2 * time.Second):
		t.Fatal("transport not started")
	}
	if gotCfg.Pin != "03145154" || gotAccs != 6 {
		t.Errorf("transport config = %+v with %d accessories", gotCfg, gotAccs)
	}

	// Drift the accessory away from the registry; the poller corrects it.
	it := e.sync.items[key("light-1")]
	if _, err := e.reg.UpdateState(ctx, key("light-1"), device.OnOff(true), device.SourceCommand); err != nil {
		t.Fatal(err)
	}
	it.update(device.OnOff(false))

	deadline := time.After(2 * time.Second)
	for e.value(t, key("light-1"), characteristic.TypeOn) != true {
		select {
		case <-deadline:
			t.Fatal("poll did not refresh the light")
		case <-time.After(5 * time.Millisecond):
		}
	}

	e.sync.Stop()
	e.sync.Stop()
	select {
	case <-ft.stopped:
	default:
		t.Error("transport not stopped")
	}
}

func TestStart_TransportError(t *testing.T) {
	e := newEnv(t, config.PollConfig{})
	e.sync.newTransport = func(hc.Config, *hcaccessory.Accessory, ...*hcaccessory.Accessory) (hc.Transport, error) {
		return nil, errors.New("invalid pin")
	}
	if err := e.sync.Start(context.Background()); err == nil {
		t.Error("Start() expected transport error")
	}
	e.sync.Stop()
}
