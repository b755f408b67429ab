package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu       sync.Mutex
	devices  []Device
	states   map[string]State
	replaces int

	listErr    error
	replaceErr error
	stateErr   error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{states: make(map[string]State)}
}

func (m *MockRepository) List(context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Device(nil), m.devices...), nil
}

func (m *MockRepository) ReplaceAll(_ context.Context, devices []Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.devices = append([]Device(nil), devices...)
	return nil
}

func (m *MockRepository) UpdateState(_ context.Context, key string, state State, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return m.stateErr
	}
	m.states[key] = state
	return nil
}

func TestRegistry_ReplaceAndList(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)

	devices := []Device{
		testDevice("Single_2", 1, TypeLight),
		testDevice("Single_1", 1, TypeLight),
		testDevice("Double3_1", 2, TypeWindowCovering),
	}
	summary, err := reg.Replace(context.Background(), devices)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if summary.Added != 3 || summary.Total != 3 {
		t.Errorf("summary = %+v", summary)
	}

	got := reg.List()
	if len(got) != 3 {
		t.Fatalf("List() returned %d devices", len(got))
	}
	for i, d := range got {
		if d.Key != devices[i].Key {
			t.Errorf("List()[%d] = %s, want %s (insertion order)", i, d.Key, devices[i].Key)
		}
	}
	if repo.replaces != 1 {
		t.Errorf("repository ReplaceAll calls = %d, want 1", repo.replaces)
	}
}

func TestRegistry_ReplaceRejectsBadSets(t *testing.T) {
	reg := NewRegistry(nil)
	original := []Device{testDevice("Single_1", 1, TypeLight)}
	if _, err := reg.Replace(context.Background(), original); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	mismatched := testDevice("Single_2", 1, TypeLight)
	mismatched.State = Position(0, MotionStopped)

	tests := []struct {
		name    string
		devices []Device
		wantErr error
	}{
		{"duplicate key", []Device{testDevice("A", 1, TypeLight), testDevice("A", 1, TypeFan)}, ErrDuplicateKey},
		{"state mismatch", []Device{mismatched}, ErrTypeMismatch},
		{"missing key", []Device{{Name: "x", Type: TypeLight, Page: 1, State: OnOff(false)}}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Replace(context.Background(), tt.devices)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Replace() error = %v, want %v", err, tt.wantErr)
			}
			if reg.Len() != 1 {
				t.Fatalf("registry changed after rejected Replace: %d devices", reg.Len())
			}
			if _, err := reg.Get(original[0].Key); err != nil {
				t.Errorf("original device missing: %v", err)
			}
		})
	}
}

func TestRegistry_ReplaceSummaryAndRemoval(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()

	first := []Device{
		testDevice("A", 1, TypeLight),
		testDevice("B", 1, TypeLight),
		testDevice("C", 1, TypeFan),
	}
	if _, err := reg.Replace(ctx, first); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	second := []Device{
		testDevice("A", 1, TypeLight),
		testDevice("C", 1, TypeDimmer),
		testDevice("D", 2, TypeScene),
	}
	summary, err := reg.Replace(ctx, second)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	want := ReplaceSummary{Added: 1, Removed: 1, Retyped: 1, Unchanged: 1, Total: 3}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if _, err := reg.Get("B_page01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(removed) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_UpdateState(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	obs := &recordingObserver{}
	reg.AddObserver(obs)
	ctx := context.Background()

	if _, err := reg.Replace(ctx, []Device{testDevice("Single_1", 1, TypeLight)}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	obs.changes = nil

	d, err := reg.UpdateState(ctx, "Single_1_page01", OnOff(true), SourceCommand)
	if err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if !d.State.On {
		t.Error("returned device should be on")
	}

	got, _ := reg.Get("Single_1_page01")
	if got.State != OnOff(true) {
		t.Errorf("Get().State = %+v, want on", got.State)
	}
	if repo.states["Single_1_page01"] != OnOff(true) {
		t.Error("state not persisted")
	}
	if len(obs.changes) != 1 || obs.changes[0].Source != SourceCommand || obs.changes[0].Previous != OnOff(false) {
		t.Errorf("observer changes = %+v", obs.changes)
	}

	if _, err := reg.UpdateState(ctx, "Single_1_page01", Position(5, MotionStopped), SourceCommand); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("UpdateState(mismatch) error = %v, want ErrTypeMismatch", err)
	}
	if _, err := reg.UpdateState(ctx, "missing-key", OnOff(true), SourceCommand); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateState(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_PersistenceFailureKeepsMemoryState(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	ctx := context.Background()

	if _, err := reg.Replace(ctx, []Device{testDevice("Single_1", 1, TypeLight)}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	repo.stateErr = errors.New("disk full")

	if _, err := reg.UpdateState(ctx, "Single_1_page01", OnOff(true), SourceCommand); err != nil {
		t.Fatalf("UpdateState() error = %v, want nil despite persistence failure", err)
	}
	got, _ := reg.Get("Single_1_page01")
	if !got.State.On {
		t.Error("in-memory state should be updated")
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg := NewRegistry(nil)
	if _, err := reg.Replace(context.Background(), []Device{testDevice("Single_1", 1, TypeLight)}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	d, _ := reg.Get("Single_1_page01")
	d.Name = "mutated"
	d.Commands["toggle"] = "evil"

	again, _ := reg.Get("Single_1_page01")
	if again.Name == "mutated" || again.Commands["toggle"] == "evil" {
		t.Error("Get() exposed registry internals")
	}
}

func TestRegistry_Load(t *testing.T) {
	repo := NewMockRepository()
	repo.devices = []Device{testDevice("Single_1", 1, TypeLight), testDevice("Single_2", 1, TypeLight)}
	reg := NewRegistry(repo)

	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	repo.listErr = errors.New("boom")
	if err := NewRegistry(repo).Load(context.Background()); err == nil {
		t.Error("Load() expected error from repository")
	}
}

// For any sequence of valid updates, every device keeps a state matching its type.
func TestRegistry_RandomUpdatesKeepVariantInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := AllTypes()
	reg := NewRegistry(nil)
	ctx := context.Background()

	var devices []Device
	for i := 0; i < 50; i++ {
		devices = append(devices, testDevice(fmt.Sprintf("E_%d", i), 1+i%5, types[rng.Intn(len(types))]))
	}
	if _, err := reg.Replace(ctx, devices); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	states := []State{
		OnOff(true), Brightness(true, 55), Position(30, MotionStopped),
		Temperature(19.5), Scene(true), Unknown(),
	}
	for i := 0; i < 500; i++ {
		d := devices[rng.Intn(len(devices))]
		s := states[rng.Intn(len(states))]
		_, err := reg.UpdateState(ctx, d.Key, s, SourceCommand)
		if s.Kind == d.Type.ExpectedKind() {
			if err != nil {
				t.Fatalf("UpdateState(%s, %s) error = %v", d.Key, s.Kind, err)
			}
		} else if !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("UpdateState(%s, %s) error = %v, want ErrTypeMismatch", d.Key, s.Kind, err)
		}
	}

	for _, d := range reg.List() {
		if d.State.Kind != d.Type.ExpectedKind() {
			t.Errorf("%s: type %s holds %s state", d.Key, d.Type, d.State.Kind)
		}
	}
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	setA := []Device{testDevice("A", 1, TypeLight), testDevice("B", 1, TypeLight)}
	setB := []Device{testDevice("C", 1, TypeFan), testDevice("D", 1, TypeFan), testDevice("E", 1, TypeFan)}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			set := setA
			if i%2 == 1 {
				set = setB
			}
			if _, err := reg.Replace(ctx, set); err != nil {
				t.Errorf("Replace() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			n := len(reg.List())
			if n != 0 && n != 2 && n != 3 {
				t.Errorf("List() saw a partial set of %d devices", n)
				return
			}
		}
	}()
	wg.Wait()
}

// Run with -race: Replace persists a snapshot while UpdateState writes the
// live set.
func TestRegistry_ConcurrentReplaceAndUpdate(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	ctx := context.Background()
	set := []Device{testDevice("A", 1, TypeLight), testDevice("B", 1, TypeLight)}
	if _, err := reg.Replace(ctx, set); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	key := set[0].Key

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := reg.Replace(ctx, set); err != nil {
					t.Errorf("Replace() error = %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := reg.UpdateState(ctx, key, OnOff(i%2 == 0), SourceCommand); err != nil {
					t.Errorf("UpdateState() error = %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, d := range reg.List() {
					if d.State.Kind != d.Type.ExpectedKind() {
						t.Errorf("%s holds %s state", d.Key, d.State.Kind)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.replaces != 1+4*50 {
		t.Errorf("repository saw %d snapshots, want %d", repo.replaces, 1+4*50)
	}
	if len(repo.devices) != 2 {
		t.Errorf("last snapshot has %d devices, want 2", len(repo.devices))
	}
}
