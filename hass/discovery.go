// Package hass publishes the registry to Home Assistant over MQTT discovery
// and turns command topic messages into switch toggles.
package hass

import (
	"encoding/json"

	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
)

const (
	PayloadOn   = "ON"
	PayloadOff  = "OFF"
	PayloadNone = "None"

	Online  = "online"
	Offline = "offline"
)

type Availability struct {
	Topic               string `json:"topic"`                 // : "hab/online"
	PayloadAvailable    string `json:"payload_available"`     // : "online"
	PayloadNotAvailable string `json:"payload_not_available"` // : "offline"
}

type DeviceSpec struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"ids"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type Advertisement struct { //nolint:govet // struct layout optimized for JSON field order
	Availability      []Availability `json:"availability"`
	AvailabilityMode  string         `json:"availability_mode"`
	Device            DeviceSpec     `json:"device"`
	UniqueID          string         `json:"uniq_id"`
	ObjectID          string         `json:"object_id"`
	Name              string         `json:"name"`
	StateTopic        string         `json:"state_topic"`
	CommandTopic      string         `json:"command_topic,omitempty"`
	PayloadOn         string         `json:"payload_on,omitempty"`
	PayloadOff        string         `json:"payload_off,omitempty"`
	Optimistic        bool           `json:"optimistic,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	EntityCategory    string         `json:"entity_category,omitempty"`
	Platform          string         `json:"platform"`
	Qos               int            `json:"qos"`
}

func (ha Advertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		util.Logger.Error().Msgf("Error marshalling Advertisement: %v", err)
		return ""
	}
	return string(data)
}

// Topics names the MQTT topics of the bridge.
type Topics struct {
	Base            string
	DiscoveryPrefix string
	NodeID          string
}

func TopicsFromConfig() Topics {
	return Topics{
		Base:            util.Config.GetString("base_topic"),
		DiscoveryPrefix: util.Config.GetString("discovery_prefix"),
		NodeID:          util.Config.GetString("node_id"),
	}
}

func (t Topics) Online() string {
	return t.Base + "/online"
}

func (t Topics) Config(info state.Info) string {
	return t.DiscoveryPrefix + "/" + info.Platform + "/" + t.NodeID + "/" + info.ObjectID + "/config"
}

func (t Topics) State(info state.Info) string {
	return t.Base + "/" + info.Platform + "/" + info.ObjectID + "/state"
}

func (t Topics) Availability(info state.Info) string {
	return t.Base + "/" + info.Platform + "/" + info.ObjectID + "/availability"
}

func (t Topics) Command(info state.Info) string {
	return t.Base + "/" + info.Platform + "/" + info.ObjectID + "/set"
}

// CommandFilter matches the command topic of every switch.
func (t Topics) CommandFilter() string {
	return t.Base + "/" + state.PlatformSwitch + "/+/set"
}

func (t Topics) uniqueID(info state.Info) string {
	if info.UniqueID != "" {
		return info.UniqueID
	}
	return t.NodeID + "-" + info.Platform + "-" + info.ObjectID
}

func (t Topics) device(info state.Info) DeviceSpec {
	if info.Device == nil {
		return DeviceSpec{
			Name:        t.NodeID,
			Identifiers: []string{t.NodeID},
		}
	}
	return DeviceSpec{
		Name:         info.Device.Name,
		Identifiers:  info.Device.Identifiers,
		Manufacturer: info.Device.Manufacturer,
		Model:        info.Device.Model,
		SWVersion:    info.Device.SWVersion,
	}
}

// ConstructAdvertisement builds the discovery payload of an entity. The
// entity is available while both the bridge and the entity are online.
func (t Topics) ConstructAdvertisement(info state.Info) Advertisement {
	ha := Advertisement{
		Name:       info.Name,
		ObjectID:   info.ObjectID,
		StateTopic: t.State(info),
		Availability: []Availability{
			{
				Topic:               t.Online(),
				PayloadAvailable:    Online,
				PayloadNotAvailable: Offline,
			},
			{
				Topic:               t.Availability(info),
				PayloadAvailable:    Online,
				PayloadNotAvailable: Offline,
			},
		},
		AvailabilityMode:  "all",
		Qos:               0,
		UniqueID:          t.uniqueID(info),
		DeviceClass:       info.DeviceClass,
		UnitOfMeasurement: info.Unit,
		Icon:              info.Icon,
		EntityCategory:    info.EntityCategory,
		Platform:          "mqtt",
		Device:            t.device(info),
	}
	if info.Platform == state.PlatformSwitch {
		ha.CommandTopic = t.Command(info)
		ha.PayloadOn = PayloadOn
		ha.PayloadOff = PayloadOff
		ha.Optimistic = info.AssumedState
	}
	return ha
}

// StatePayload renders a snapshot for the state topic.
func StatePayload(info state.Info, snap state.Snapshot) string {
	switch snap.State {
	case state.Unknown, state.Unavailable, "":
		return PayloadNone
	}
	if info.Platform == state.PlatformSwitch {
		if snap.IsOn() {
			return PayloadOn
		}
		return PayloadOff
	}
	return snap.State
}

func AvailabilityPayload(snap state.Snapshot) string {
	if snap.State == state.Unavailable {
		return Offline
	}
	return Online
}
