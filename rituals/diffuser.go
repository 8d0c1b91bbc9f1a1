package rituals

import (
	"encoding/json"
	"strings"
)

var batteryPercentages = map[string]int{
	"battery-charge.png":    100,
	"full-battery-icon.png": 100,
	"Battery-75.png":        50,
	"battery-low.png":       25,
}

var wifiPercentages = map[string]int{
	"icon-signal.png":     100,
	"icon-signal-75.png":  70,
	"icon-signal-low.png": 25,
	"icon-signal-0.png":   0,
}

type hubSensor struct {
	ID    int    `json:"id"`
	Icon  string `json:"icon"`
	Title string `json:"title"`
}

type hubAttributes struct {
	RoomName string `json:"roomnamec"`
	Fan      string `json:"fanc"`
	Speed    string `json:"speedc"`
	Room     string `json:"roomc"`
}

// hubData is the "hub" object of the account and hub endpoints.
type hubData struct {
	Hash       string                     `json:"hash"`
	Hublot     string                     `json:"hublot"`
	Status     int                        `json:"status"`
	Attributes hubAttributes              `json:"attributes"`
	Sensors    map[string]json.RawMessage `json:"sensors"`
}

type hubEnvelope struct {
	Hub hubData `json:"hub"`
}

// Diffuser is a snapshot of one Perfume Genie as the vendor cloud reported
// it. A refresh replaces it, it is never modified.
type Diffuser struct {
	data hubData
}

func newDiffuser(data hubData) *Diffuser {
	return &Diffuser{data: data}
}

func (d *Diffuser) Hash() string {
	return d.data.Hash
}

func (d *Diffuser) Hublot() string {
	return d.data.Hublot
}

func (d *Diffuser) Name() string {
	return d.data.Attributes.RoomName
}

// Available reports the hub's own online flag.
func (d *Diffuser) Available() bool {
	return d.data.Status == 1
}

func (d *Diffuser) IsOn() bool {
	return d.data.Attributes.Fan == "1"
}

func (d *Diffuser) sensor(key string) (hubSensor, bool) {
	raw, ok := d.data.Sensors[key]
	if !ok {
		return hubSensor{}, false
	}
	var s hubSensor
	if err := json.Unmarshal(raw, &s); err != nil {
		return hubSensor{}, false
	}
	return s, true
}

func (d *Diffuser) HasBattery() bool {
	_, ok := d.data.Sensors["battc"]
	return ok
}

// BatteryPercentage maps the battery icon to a percentage. ok is false when
// there is no battery or the icon is not known.
func (d *Diffuser) BatteryPercentage() (int, bool) {
	s, ok := d.sensor("battc")
	if !ok {
		return 0, false
	}
	pct, ok := batteryPercentages[s.Icon]
	return pct, ok
}

func (d *Diffuser) WifiPercentage() (int, bool) {
	s, ok := d.sensor("wific")
	if !ok {
		return 0, false
	}
	pct, ok := wifiPercentages[s.Icon]
	return pct, ok
}

// Fill is the fill level text, e.g. "50-60%".
func (d *Diffuser) Fill() string {
	s, _ := d.sensor("fillc")
	return s.Title
}

func (d *Diffuser) Perfume() string {
	s, _ := d.sensor("rfidc")
	return s.Title
}

func (d *Diffuser) Firmware() string {
	raw, ok := d.data.Sensors["versionc"]
	if !ok {
		return ""
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return ""
	}
	return strings.TrimSpace(version)
}
