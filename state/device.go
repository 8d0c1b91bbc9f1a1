// Package state holds the entities the bridge exposes, the registry that
// tracks their published snapshots and the poll scheduler.
package state

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const (
	On          = "on"
	Off         = "off"
	Unknown     = "unknown"
	Unavailable = "unavailable"
)

const (
	PlatformSwitch = "switch"
	PlatformSensor = "sensor"
)

const EntityCategoryDiagnostic = "diagnostic"

// DeviceInfo groups entities under one physical device.
type DeviceInfo struct {
	Identifiers  []string
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
}

// Info is the static metadata of an entity.
type Info struct {
	Platform       string
	ObjectID       string
	UniqueID       string
	Name           string
	Icon           string
	DeviceClass    string
	Unit           string
	EntityCategory string
	AssumedState   bool
	Device         *DeviceInfo
}

// EntityID is "<platform>.<object_id>".
func (i Info) EntityID() string {
	return i.Platform + "." + i.ObjectID
}

// Snapshot is what gets published for an entity.
type Snapshot struct {
	State     string
	Icon      string
	Name      string
	UpdatedAt time.Time
}

// Same ignores UpdatedAt.
func (s Snapshot) Same(o Snapshot) bool {
	return s.State == o.State && s.Icon == o.Icon && s.Name == o.Name
}

func (s Snapshot) IsOn() bool {
	return s.State == On
}

type Entity interface {
	Info() Info
	// Polled entities are updated by the Scheduler.
	Polled() bool
	Update(ctx context.Context) error
	Snapshot() Snapshot
}

type Switchable interface {
	Entity
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Refresher is implemented by entities that change state outside of the
// poll cycle. The registry binds fn to a publish of the entity.
type Refresher interface {
	SetRefresh(fn func())
}

// BoolState maps a boolean reading to on/off.
func BoolState(b bool) string {
	if b {
		return On
	}
	return Off
}

// SplitEntityID splits "switch.porch" into its platform and object id.
func SplitEntityID(id string) (platform, objectID string, ok bool) {
	platform, objectID, ok = strings.Cut(id, ".")
	if !ok || platform == "" || objectID == "" {
		return "", "", false
	}
	return platform, objectID, true
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with underscores.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
