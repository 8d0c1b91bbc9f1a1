package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elijahnyp/home_bridge/runner"
)

// Mock implementations for testing interfaces

type MockEntity struct {
	mu      sync.Mutex
	info    Info
	polled  bool
	state   string
	icon    string
	updates int32
	next    []string
	err     error
	block   chan struct{}
	refresh func()
}

func newMock(objectID string, polled bool) *MockEntity {
	return &MockEntity{
		info:   Info{Platform: PlatformSwitch, ObjectID: objectID, Name: objectID},
		polled: polled,
		state:  Unknown,
	}
}

func (m *MockEntity) Info() Info   { return m.info }
func (m *MockEntity) Polled() bool { return m.polled }

func (m *MockEntity) Update(ctx context.Context) error {
	atomic.AddInt32(&m.updates, 1)
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.next) > 0 {
		m.state = m.next[0]
		m.next = m.next[1:]
	}
	return m.err
}

func (m *MockEntity) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Icon: m.icon, Name: m.info.Name}
}

func (m *MockEntity) set(state string) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *MockEntity) SetRefresh(fn func()) {
	m.refresh = fn
}

func (m *MockEntity) TurnOn(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	if !m.polled {
		m.set(On)
		if m.refresh != nil {
			m.refresh()
		}
	}
	return nil
}

func (m *MockEntity) TurnOff(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	if !m.polled {
		m.set(Off)
		if m.refresh != nil {
			m.refresh()
		}
	}
	return nil
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) listen(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) last() Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

func TestSplitEntityID(t *testing.T) {
	tests := []struct {
		id       string
		platform string
		objectID string
		ok       bool
	}{
		{"switch.porch", "switch", "porch", true},
		{"sensor.genie_fill", "sensor", "genie_fill", true},
		{"switch.", "", "", false},
		{"porch", "", "", false},
		{".porch", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			platform, objectID, ok := SplitEntityID(tt.id)
			if platform != tt.platform || objectID != tt.objectID || ok != tt.ok {
				t.Errorf("SplitEntityID(%q) = (%q, %q, %v), expected (%q, %q, %v)",
					tt.id, platform, objectID, ok, tt.platform, tt.objectID, tt.ok)
			}
		})
	}
}

func TestSnapshotSame(t *testing.T) {
	a := Snapshot{State: On, Icon: "mdi:a", Name: "A", UpdatedAt: time.Now()}
	b := a
	b.UpdatedAt = a.UpdatedAt.Add(time.Minute)
	if !a.Same(b) {
		t.Error("snapshots differing only in UpdatedAt should be the same")
	}
	b.Icon = "mdi:b"
	if a.Same(b) {
		t.Error("snapshots with different icons should differ")
	}
}

func TestRegistryAddPublishes(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.OnChange(rec.listen)

	e := newMock("porch", false)
	if err := reg.Add("command_line", e); err != nil {
		t.Fatalf("Add returned %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 change after Add, got %d", rec.count())
	}
	if got := rec.last().Snapshot.State; got != Unknown {
		t.Errorf("initial state = %s, expected unknown", got)
	}
	if _, ok := reg.Get("switch.porch"); !ok {
		t.Error("entity not found after Add")
	}
}

func TestRegistryPublishIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.OnChange(rec.listen)
	e := newMock("porch", true)
	_ = reg.Add("command_line", e)

	if reg.Publish("switch.porch") {
		t.Error("publishing an unchanged entity should not notify")
	}
	e.set(On)
	if !reg.Publish("switch.porch") {
		t.Error("publishing a changed entity should notify")
	}
	if reg.Publish("switch.porch") {
		t.Error("second publish of the same state should not notify")
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 changes, got %d", rec.count())
	}
	snap, ok := reg.Published("switch.porch")
	if !ok || snap.State != On {
		t.Errorf("Published = (%v, %v), expected on", snap, ok)
	}
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.OnChange(rec.listen)

	oldB := newMock("b", false)
	_ = reg.Add("command_line", newMock("a", false), oldB)
	_ = reg.Add("rituals", &MockEntity{info: Info{Platform: PlatformSensor, ObjectID: "genie_fill"}})
	rec.changes = nil

	newB := newMock("b", false)
	if err := reg.Replace("command_line", newB, newMock("c", false)); err != nil {
		t.Fatalf("Replace returned %v", err)
	}

	var ids []string
	for _, e := range reg.All() {
		ids = append(ids, e.Info().EntityID())
	}
	expected := []string{"sensor.genie_fill", "switch.b", "switch.c"}
	if len(ids) != len(expected) {
		t.Fatalf("entities = %v, expected %v", ids, expected)
	}
	for i := range expected {
		if ids[i] != expected[i] {
			t.Errorf("entities[%d] = %s, expected %s", i, ids[i], expected[i])
		}
	}

	removed := 0
	for _, c := range rec.changes {
		if c.Removed {
			removed++
			if id := c.Entity.Info().EntityID(); id != "switch.a" {
				t.Errorf("unexpected removal of %s", id)
			}
		}
		if !c.Removed && c.Entity.Info().EntityID() == "switch.b" {
			t.Errorf("unchanged switch.b was republished: %+v", c.Snapshot)
		}
	}
	if removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
	if e, _ := reg.Get("switch.b"); e != newB {
		t.Error("expected switch.b to hold the new instance")
	}
	if oldB.refresh != nil || newB.refresh == nil {
		t.Error("expected the refresh callback to move to the new instance")
	}

	// a changed snapshot on the swapped entity is still published
	newB.set(On)
	newB.refresh()
	if snap, _ := reg.Published("switch.b"); snap.State != On {
		t.Errorf("switch.b = %s after refresh, expected on", snap.State)
	}
	if len(reg.BySource("rituals")) != 1 {
		t.Error("Replace touched another source")
	}
}

func TestRegistryRejectsInvalidID(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add("test", newMock("", false)); err == nil {
		t.Error("expected an error for an empty object id")
	}
}

func TestRegistryRefresherPublishes(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.OnChange(rec.listen)
	e := newMock("porch", false)
	_ = reg.Add("command_line", e)

	if err := reg.Toggle(context.Background(), "switch.porch", true); err != nil {
		t.Fatalf("Toggle returned %v", err)
	}
	if got := rec.last().Snapshot.State; got != On {
		t.Errorf("state after Toggle on = %s, expected on", got)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 changes, got %d", rec.count())
	}

	reg.Remove("switch.porch")
	if e.refresh != nil {
		t.Error("refresh callback should be unbound on removal")
	}
}

func TestRegistryToggleFailure(t *testing.T) {
	reg := NewRegistry()
	e := newMock("porch", false)
	e.err = errors.New("boom")
	_ = reg.Add("command_line", e)

	if err := reg.Toggle(context.Background(), "switch.porch", true); err == nil {
		t.Error("expected the switch error")
	}
	if snap, _ := reg.Published("switch.porch"); snap.State != Unknown {
		t.Errorf("state after failed toggle = %s, expected unknown", snap.State)
	}
	if err := reg.Toggle(context.Background(), "switch.missing", true); err == nil {
		t.Error("expected an error for a missing entity")
	}
}

func TestRegistryRefreshPolls(t *testing.T) {
	reg := NewRegistry()
	e := newMock("porch", true)
	e.next = []string{On}
	_ = reg.Add("command_line", e)

	if err := reg.Refresh(context.Background(), "switch.porch"); err != nil {
		t.Fatalf("Refresh returned %v", err)
	}
	if snap, _ := reg.Published("switch.porch"); snap.State != On {
		t.Errorf("state after Refresh = %s, expected on", snap.State)
	}
}

func TestSchedulerTick(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.OnChange(rec.listen)

	polled := newMock("polled", true)
	polled.next = []string{On, On, Off}
	optimistic := newMock("optimistic", false)
	_ = reg.Add("command_line", polled, optimistic)

	s := NewScheduler(reg, runner.Inline{}, "command_line", time.Minute)
	ctx := context.Background()

	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)

	if n := atomic.LoadInt32(&polled.updates); n != 3 {
		t.Errorf("polled entity updated %d times, expected 3", n)
	}
	if n := atomic.LoadInt32(&optimistic.updates); n != 0 {
		t.Errorf("optimistic entity updated %d times, expected 0", n)
	}
	// two adds, unknown->on, on->off
	if rec.count() != 4 {
		t.Errorf("expected 4 changes, got %d", rec.count())
	}
}

func TestSchedulerSkipsInFlight(t *testing.T) {
	reg := NewRegistry()
	e := newMock("slow", true)
	e.block = make(chan struct{})
	_ = reg.Add("command_line", e)

	pool := runner.NewPool(4)
	s := NewScheduler(reg, pool, "command_line", time.Minute)
	ctx := context.Background()

	s.Tick(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&e.updates) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Tick(ctx)
	s.Tick(ctx)
	close(e.block)
	pool.Wait()

	if n := atomic.LoadInt32(&e.updates); n != 1 {
		t.Errorf("slow entity updated %d times, expected 1", n)
	}

	s.Tick(ctx)
	pool.Wait()
	if n := atomic.LoadInt32(&e.updates); n != 2 {
		t.Errorf("slow entity updated %d times after it finished, expected 2", n)
	}
}

func TestSchedulerRun(t *testing.T) {
	reg := NewRegistry()
	e := newMock("porch", true)
	_ = reg.Add("command_line", e)

	s := NewScheduler(reg, runner.Inline{}, "command_line", 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	s.SetInterval(10 * time.Millisecond)
	<-done

	if n := atomic.LoadInt32(&e.updates); n < 3 {
		t.Errorf("expected several polls, got %d", n)
	}
	if s.Interval() != 10*time.Millisecond {
		t.Errorf("Interval() = %v, expected 10ms", s.Interval())
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Living Room Genie":  "living_room_genie",
		"  Genie #2 -- Fill": "genie_2_fill",
		"already_slug":       "already_slug",
		"Ça va":              "a_va",
	}
	for in, expected := range tests {
		if got := Slugify(in); got != expected {
			t.Errorf("Slugify(%q) = %q, expected %q", in, got, expected)
		}
	}
}
