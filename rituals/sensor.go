package rituals

import (
	"context"
	"strconv"
	"sync"

	"github.com/elijahnyp/home_bridge/state"
)

const (
	manufacturer = "Rituals Cosmetics"
	modelGenie   = "The Perfume Genie"
	modelGenie2  = "The Perfume Genie 2.0"
)

// Description is a static sensor definition applied to every diffuser.
type Description struct {
	Key         string
	Name        string
	Icon        string
	Unit        string
	DeviceClass string
	// Value extracts the reading; ok false means no usable value.
	Value func(d *Diffuser) (string, bool)
	// Has decides at setup whether the diffuser gets this sensor.
	Has func(d *Diffuser) bool
}

func percentage(fn func(d *Diffuser) (int, bool)) func(d *Diffuser) (string, bool) {
	return func(d *Diffuser) (string, bool) {
		pct, ok := fn(d)
		if !ok {
			return "", false
		}
		return strconv.Itoa(pct), true
	}
}

func text(fn func(d *Diffuser) string) func(d *Diffuser) (string, bool) {
	return func(d *Diffuser) (string, bool) {
		v := fn(d)
		return v, v != ""
	}
}

var Descriptions = []Description{
	{
		Key:         "battery_percentage",
		Name:        "Battery",
		Unit:        "%",
		DeviceClass: "battery",
		Value:       percentage((*Diffuser).BatteryPercentage),
		Has:         (*Diffuser).HasBattery,
	},
	{
		Key:   "fill",
		Name:  "Fill",
		Icon:  "mdi:beaker",
		Value: text((*Diffuser).Fill),
	},
	{
		Key:   "perfume",
		Name:  "Perfume",
		Icon:  "mdi:tag",
		Value: text((*Diffuser).Perfume),
	},
	{
		Key:   "wifi_percentage",
		Name:  "Wifi",
		Icon:  "mdi:wifi",
		Unit:  "%",
		Value: percentage((*Diffuser).WifiPercentage),
	},
}

func (d Description) applies(diffuser *Diffuser) bool {
	return d.Has == nil || d.Has(diffuser)
}

// Sensor reports one Description of one diffuser. Its value always comes
// from the coordinator's latest data.
type Sensor struct {
	coordinator *Coordinator
	desc        Description
	name        string
	hublot      string

	mu      sync.Mutex
	refresh func()
}

func NewSensor(c *Coordinator, desc Description) *Sensor {
	d := c.Diffuser()
	s := &Sensor{
		coordinator: c,
		desc:        desc,
		name:        d.Name() + " " + desc.Name,
		hublot:      d.Hublot(),
	}
	c.AddListener(s.changed)
	return s
}

func (s *Sensor) changed() {
	s.mu.Lock()
	refresh := s.refresh
	s.mu.Unlock()
	if refresh != nil {
		refresh()
	}
}

func (s *Sensor) SetRefresh(fn func()) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

func (s *Sensor) Info() state.Info {
	d := s.coordinator.Diffuser()
	model := modelGenie
	if d.HasBattery() {
		model = modelGenie2
	}
	return state.Info{
		Platform:       state.PlatformSensor,
		ObjectID:       state.Slugify(s.name),
		UniqueID:       s.hublot + "-" + s.desc.Key,
		Name:           s.name,
		Icon:           s.desc.Icon,
		DeviceClass:    s.desc.DeviceClass,
		Unit:           s.desc.Unit,
		EntityCategory: state.EntityCategoryDiagnostic,
		Device: &state.DeviceInfo{
			Identifiers:  []string{s.hublot},
			Name:         d.Name(),
			Manufacturer: manufacturer,
			Model:        model,
			SWVersion:    d.Firmware(),
		},
	}
}

// Polled is false: the coordinator pushes changes.
func (s *Sensor) Polled() bool {
	return false
}

func (s *Sensor) Update(ctx context.Context) error {
	return nil
}

func (s *Sensor) Snapshot() state.Snapshot {
	snap := state.Snapshot{Icon: s.desc.Icon, Name: s.name}
	if !s.coordinator.LastUpdateSuccess() {
		snap.State = state.Unavailable
		return snap
	}
	snap.UpdatedAt, _ = s.coordinator.LastUpdate()
	if v, ok := s.desc.Value(s.coordinator.Diffuser()); ok {
		snap.State = v
	} else {
		snap.State = state.Unknown
	}
	return snap
}
