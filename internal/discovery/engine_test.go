package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/portal-bridge/internal/command"
	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/portal/portaltest"
	"github.com/nerrad567/portal-bridge/internal/session"
)

func samplePortal() *portaltest.Portal {
	p := portaltest.New()
	p.SetPage(1,
		portaltest.Element{ID: "Single_1", Index: 4, Name: "Kitchen", Icon: "icon-1", Active: true},
		portaltest.Element{ID: "Shifter_1", Index: 7, Name: "Living blind", Classes: []string{"visu-shifter"}},
	)
	p.SetPage(2,
		portaltest.Element{ID: "Scene_1", Index: 2, Name: "Szene Abend", Icon: "icon-11"},
		portaltest.Element{ID: "Temp_1", Index: 3, Name: "Wohnen", Status: "21,5 °C"},
	)
	p.SetPage(3,
		portaltest.Element{ID: "Fan_1", Index: 5, Name: "Bad", Speeds: 3},
	)
	return p
}

func newEngine(p *portaltest.Portal, opts Options) *Engine {
	return NewEngine(session.NewManager(p, session.Options{}), opts)
}

func keysAndTypes(devs []device.Device) []string {
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Key+"="+string(d.Type))
	}
	return out
}

func TestEngine_DiscoverAll(t *testing.T) {
	p := samplePortal()
	e := newEngine(p, Options{})

	devs, err := e.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAll() error = %v", err)
	}

	want := []string{
		"Single_1_page01=Light",
		"Shifter_1_page01=WindowCovering",
		"Scene_1_page02=Scene",
		"Temp_1_page02=TemperatureSensor",
		"Fan_1_page03=Fan",
	}
	got := keysAndTypes(devs)
	if len(got) != len(want) {
		t.Fatalf("DiscoverAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("device %d = %s, want %s", i, got[i], want[i])
		}
	}

	// Page 4 is empty, so the scan stops there.
	if n := p.Fetches(); n != 4 {
		t.Errorf("fetches = %d, want 4", n)
	}

	light := devs[0]
	if light.State != device.OnOff(true) {
		t.Errorf("light state = %+v", light.State)
	}
	if p, _ := light.Commands.Payload(command.ActionToggle); p != "4+01+00+01" {
		t.Errorf("light toggle payload = %q", p)
	}
	blind := devs[1]
	if p, _ := blind.Commands.Payload(command.ActionDown); p != "7+03+00+01" {
		t.Errorf("blind down payload = %q", p)
	}
	if devs[3].State != device.Temperature(21.5) {
		t.Errorf("temperature state = %+v", devs[3].State)
	}
	if !devs[3].ReadOnly() {
		t.Error("temperature sensor should be read-only")
	}

	for _, d := range devs {
		if err := d.Validate(); err != nil {
			t.Errorf("device %s invalid: %v", d.Key, err)
		}
	}
}

func TestEngine_DeterministicAcrossPasses(t *testing.T) {
	p := samplePortal()
	e := newEngine(p, Options{})
	ctx := context.Background()

	first, err := e.DiscoverAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.DiscoverAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	a, b := keysAndTypes(first), keysAndTypes(second)
	if len(a) != len(b) {
		t.Fatalf("passes differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("pass mismatch at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestEngine_FailureDiscardsPartialResults(t *testing.T) {
	p := portaltest.New()
	for page := 1; page <= 10; page++ {
		p.SetPage(page, portaltest.Element{ID: "Single_1", Index: page, Name: "Light"})
	}
	p.FailPage(5, errors.New("backend error"))
	e := newEngine(p, Options{})

	devs, err := e.DiscoverAll(context.Background())
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("DiscoverAll() error = %v, want ErrDiscovery", err)
	}
	if devs != nil {
		t.Errorf("DiscoverAll() returned %d devices on failure", len(devs))
	}
}

func TestEngine_MaxPages(t *testing.T) {
	p := portaltest.New()
	for page := 1; page <= 5; page++ {
		p.SetPage(page, portaltest.Element{ID: "Single_1", Index: page, Name: "Light"})
	}
	e := newEngine(p, Options{MaxPages: 2})

	devs, err := e.DiscoverAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 {
		t.Errorf("DiscoverAll() found %d devices, want 2", len(devs))
	}
}

func TestEngine_SessionExpiryRecovered(t *testing.T) {
	p := samplePortal()
	mgr := session.NewManager(p, session.Options{})
	e := NewEngine(mgr, Options{})
	ctx := context.Background()

	if _, err := e.DiscoverAll(ctx); err != nil {
		t.Fatal(err)
	}
	p.ExpireSessions()
	if _, err := e.DiscoverAll(ctx); err != nil {
		t.Fatalf("DiscoverAll() after expiry error = %v", err)
	}
	if n := p.Logins(); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}
}

type slowFetcher struct{}

func (slowFetcher) FetchPage(ctx context.Context, _ int) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_Timeout(t *testing.T) {
	e := NewEngine(slowFetcher{}, Options{Timeout: 20 * time.Millisecond})
	_, err := e.DiscoverAll(context.Background())
	if !errors.Is(err, ErrDiscovery) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("DiscoverAll() error = %v, want ErrDiscovery wrapping deadline", err)
	}
}

func TestEngine_DuplicateKeysSkipped(t *testing.T) {
	p := portaltest.New()
	p.SetPage(1,
		portaltest.Element{ID: "Single_1", Index: 1, Name: "A"},
		portaltest.Element{ID: "Single_1", Index: 2, Name: "B"},
	)
	devs, err := newEngine(p, Options{}).DiscoverAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 || devs[0].Name != "A" {
		t.Errorf("DiscoverAll() = %+v, want only the first element", devs)
	}
}

func TestEngine_MappingsOverride(t *testing.T) {
	p := samplePortal()
	m := &command.Mappings{
		Lights: map[string]string{"Single_1_page01": command.ReadOnlyMarker},
		Blinds: map[string]string{"Shifter_1_page01_down": "70+09+00+01"},
	}
	devs, err := newEngine(p, Options{Mappings: m}).DiscoverAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !devs[0].ReadOnly() {
		t.Error("light mapped READONLY should be read-only")
	}
	if p, _ := devs[1].Commands.Payload(command.ActionDown); p != "70+09+00+01" {
		t.Errorf("blind down payload = %q, want override", p)
	}
}

func TestExportMappings(t *testing.T) {
	devs, err := newEngine(samplePortal(), Options{}).DiscoverAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m := ExportMappings(devs)
	if got := m.Lights["Single_1_page01"]; got != "4+01+00+01" {
		t.Errorf("exported light = %q", got)
	}
	if got := m.Blinds["Shifter_1_page01_stop"]; got != "7+02+00+01" {
		t.Errorf("exported blind stop = %q", got)
	}
	if got := m.Sensors["Temp_1_page02"]; got != command.ReadOnlyMarker {
		t.Errorf("exported sensor = %q, want READONLY", got)
	}
}
