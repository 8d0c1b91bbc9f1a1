package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elijahnyp/home_bridge/util"
)

// Change is delivered to registry listeners. Removed is set when the entity
// left the registry; Snapshot is then its last published one.
type Change struct {
	Entity   Entity
	Snapshot Snapshot
	Removed  bool
}

type Listener func(Change)

type entry struct {
	entity    Entity
	source    string
	published Snapshot
	hasPub    bool
	inflight  bool
	gen       int // bumped when the entity is swapped
}

// Registry tracks the live entities by entity id, grouped by the integration
// that added them.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	listeners []Listener
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// OnChange registers l. Listeners run on the publishing goroutine.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Registry) notify(c Change) {
	r.mu.Lock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, l := range listeners {
		l(c)
	}
}

// Add registers entities for source and publishes their first snapshot.
// An entity id that is already present is swapped in place: listeners only
// hear about it when its snapshot differs from the last published one.
func (r *Registry) Add(source string, entities ...Entity) error {
	for _, e := range entities {
		if _, _, ok := SplitEntityID(e.Info().EntityID()); !ok {
			return fmt.Errorf("invalid entity id %q", e.Info().EntityID())
		}
	}
	for _, e := range entities {
		id := e.Info().EntityID()
		r.mu.Lock()
		en, ok := r.entries[id]
		var old Entity
		if ok {
			old = en.entity
			en.entity = e
			en.source = source
			en.gen++
		} else {
			r.entries[id] = &entry{entity: e, source: source}
		}
		r.mu.Unlock()
		if rf, ok := old.(Refresher); ok {
			rf.SetRefresh(nil)
		}
		if rf, ok := e.(Refresher); ok {
			rf.SetRefresh(func() { r.Publish(id) })
		}
		if ok {
			util.Logger.Debug().Msgf("updated %s from %s", id, source)
		} else {
			util.Logger.Debug().Msgf("registered %s from %s", id, source)
		}
		r.Publish(id)
	}
	return nil
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	en, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if rf, ok := en.entity.(Refresher); ok {
		rf.SetRefresh(nil)
	}
	r.notify(Change{Entity: en.entity, Snapshot: en.published, Removed: true})
	return true
}

// Replace swaps every entity of source for entities. Used on config reload.
func (r *Registry) Replace(source string, entities ...Entity) error {
	keep := make(map[string]bool, len(entities))
	for _, e := range entities {
		keep[e.Info().EntityID()] = true
	}
	for _, e := range r.BySource(source) {
		if id := e.Info().EntityID(); !keep[id] {
			r.Remove(id)
		}
	}
	return r.Add(source, entities...)
}

func (r *Registry) Get(id string) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return en.entity, true
}

// All returns the entities sorted by entity id.
func (r *Registry) All() []Entity {
	return r.collect(func(*entry) bool { return true })
}

func (r *Registry) BySource(source string) []Entity {
	return r.collect(func(en *entry) bool { return en.source == source })
}

func (r *Registry) collect(match func(*entry) bool) []Entity {
	r.mu.Lock()
	out := make([]Entity, 0, len(r.entries))
	for _, en := range r.entries {
		if match(en) {
			out = append(out, en.entity)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Info().EntityID() < out[j].Info().EntityID()
	})
	return out
}

// Published returns the last snapshot listeners saw for id.
func (r *Registry) Published(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.entries[id]
	if !ok || !en.hasPub {
		return Snapshot{}, false
	}
	return en.published, true
}

// Publish takes a fresh snapshot of id and notifies listeners when its
// state, icon or name differ from the last published one. It reports
// whether a notification went out.
func (r *Registry) Publish(id string) bool {
	r.mu.Lock()
	en, ok := r.entries[id]
	var e Entity
	var gen int
	if ok {
		e, gen = en.entity, en.gen
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	snap := e.Snapshot()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	r.mu.Lock()
	if r.entries[id] != en || en.gen != gen || (en.hasPub && en.published.Same(snap)) {
		r.mu.Unlock()
		return false
	}
	en.published = snap
	en.hasPub = true
	r.mu.Unlock()

	util.Logger.Debug().Msgf("%s -> %s", id, snap.State)
	r.notify(Change{Entity: e, Snapshot: snap})
	return true
}

func (r *Registry) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.entries[id]
	if !ok || en.inflight {
		return false
	}
	en.inflight = true
	return true
}

func (r *Registry) end(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if en, ok := r.entries[id]; ok {
		en.inflight = false
	}
}

// Refresh updates id now when it is polled, then publishes it. An update
// already in flight is not duplicated.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("no entity %s", id)
	}
	if e.Polled() {
		if !r.begin(id) {
			util.Logger.Debug().Msgf("update of %s already running", id)
			return nil
		}
		err := e.Update(ctx)
		r.end(id)
		if err != nil {
			util.Logger.Warn().Msgf("Error updating %s: %v", id, err)
		}
	}
	r.Publish(id)
	return nil
}

// Toggle turns the switch id on or off and refreshes it.
func (r *Registry) Toggle(ctx context.Context, id string, on bool) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("no entity %s", id)
	}
	sw, ok := e.(Switchable)
	if !ok {
		return fmt.Errorf("%s is not a switch", id)
	}
	var err error
	if on {
		err = sw.TurnOn(ctx)
	} else {
		err = sw.TurnOff(ctx)
	}
	if rerr := r.Refresh(ctx, id); err == nil {
		err = rerr
	}
	return err
}
