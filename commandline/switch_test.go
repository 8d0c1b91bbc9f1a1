package commandline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/spf13/viper"
)

func intp(i int) *int { return &i }

func mustSwitch(t *testing.T, id string, cfg SwitchConfig) *Switch {
	t.Helper()
	sw, err := NewSwitch(id, cfg, nil)
	if err != nil {
		t.Fatalf("NewSwitch(%s) returned %v", id, err)
	}
	return sw
}

func TestSwitchValueTemplateComparison(t *testing.T) {
	util.LogInit("disabled")
	tests := []struct {
		name     string
		output   string
		template string
		expected string
	}{
		{"lowercase true", "true", "{{ .Value }}", state.On},
		{"uppercase true", "TRUE", "{{ .Value }}", state.On},
		{"on is not true", "on", "{{ .Value }}", state.Off},
		{"false", "false", "{{ .Value }}", state.Off},
		{"trailing newline", "true\n", "{{ .Value }}", state.On},
		{"json field", `{"power": "True"}`, "{{ .ValueJSON.power }}", state.On},
		{"json field off", `{"power": "off"}`, "{{ .ValueJSON.power }}", state.Off},
		{"template maps value", "1", `{{ if eq .Value "1" }}true{{ else }}false{{ end }}`, state.On},
		{"failed render falls back to payload", "true", "{{ .ValueJSON.power }}", state.On},
		{"json boolean", `{"power": true}`, `{{ printf "%v" .ValueJSON.power | lower }}`, state.On},
		{"json boolean off", `{"power": false}`, `{{ printf "%v" .ValueJSON.power | lower }}`, state.Off},
		{"empty output", "", "{{ .Value }}", state.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := mustSwitch(t, "probe", SwitchConfig{
				CommandState:  fmt.Sprintf("printf '%%s' '%s'", tt.output),
				ValueTemplate: tt.template,
			})
			if err := sw.Update(context.Background()); err != nil {
				t.Fatalf("Update returned %v", err)
			}
			if got := sw.Snapshot().State; got != tt.expected {
				t.Errorf("state = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestSwitchExitCodeState(t *testing.T) {
	util.LogInit("disabled")
	tests := []struct {
		command  string
		timeout  int
		expected string
	}{
		{"exit 0", 5, state.On},
		{"exit 1", 5, state.Off},
		{"exit 7", 5, state.Off},
		{"sleep 5", 1, state.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sw := mustSwitch(t, "probe", SwitchConfig{CommandState: tt.command, CommandTimeout: intp(tt.timeout)})
			_ = sw.Update(context.Background())
			if got := sw.Snapshot().State; got != tt.expected {
				t.Errorf("state = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestSwitchFailedQueryIsUnknown(t *testing.T) {
	util.LogInit("disabled")
	tests := []struct {
		name    string
		command string
		timeout int
	}{
		{"non-zero exit with output", "echo true; exit 1", 5},
		{"timeout after output", "echo true; sleep 5", 1},
		{"spawn of missing binary", "/nonexistent/state", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := mustSwitch(t, "query", SwitchConfig{
				CommandState:   tt.command,
				ValueTemplate:  "{{ .Value }}",
				IconTemplate:   `{{ if eq .Value "" }}mdi:help{{ else }}mdi:power{{ end }}`,
				CommandTimeout: intp(tt.timeout),
			})
			sw.set(state.On, "")
			_ = sw.Update(context.Background())
			snap := sw.Snapshot()
			if snap.State != state.Unknown {
				t.Errorf("state after failed query = %s, expected unknown", snap.State)
			}
			if snap.Icon != "mdi:help" {
				t.Errorf("icon = %s, expected the icon for no output", snap.Icon)
			}
		})
	}
}

func TestSwitchOptimistic(t *testing.T) {
	util.LogInit("disabled")
	sw := mustSwitch(t, "porch", SwitchConfig{})
	refreshed := 0
	sw.SetRefresh(func() { refreshed++ })

	if sw.Polled() {
		t.Error("switch without state command should not be polled")
	}
	if !sw.Info().AssumedState {
		t.Error("switch without state command should assume its state")
	}
	if sw.IsOn() {
		t.Error("optimistic switch should start off")
	}

	if err := sw.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn returned %v", err)
	}
	if !sw.IsOn() {
		t.Error("switch should be on after TurnOn")
	}
	if err := sw.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff returned %v", err)
	}
	if sw.IsOn() {
		t.Error("switch should be off after TurnOff")
	}
	if refreshed != 2 {
		t.Errorf("refresh called %d times, expected 2", refreshed)
	}
	if err := sw.Update(context.Background()); err != nil {
		t.Errorf("Update on an optimistic switch returned %v", err)
	}
}

func TestSwitchFailedCommandLeavesState(t *testing.T) {
	var buf bytes.Buffer
	util.LogInitWriter("error", &buf)
	defer util.LogInit("disabled")

	sw := mustSwitch(t, "porch", SwitchConfig{CommandOn: "exit 1", CommandOff: "sleep 5", CommandTimeout: intp(1)})
	refreshed := 0
	sw.SetRefresh(func() { refreshed++ })

	if err := sw.TurnOn(context.Background()); err == nil {
		t.Error("expected an error from a failing command")
	}
	if sw.IsOn() {
		t.Error("state changed after a failed TurnOn")
	}
	if !strings.Contains(buf.String(), "Command failed: exit 1") {
		t.Errorf("expected the failure to be logged, got %q", buf.String())
	}

	sw.set(state.On, "")
	start := time.Now()
	if err := sw.TurnOff(context.Background()); err == nil {
		t.Error("expected an error from a timed out command")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("TurnOff was not bounded by command_timeout")
	}
	if !sw.IsOn() {
		t.Error("state changed after a timed out TurnOff")
	}
	if refreshed != 0 {
		t.Errorf("refresh called %d times, expected 0", refreshed)
	}
}

func TestSwitchWithStateCommand(t *testing.T) {
	util.LogInit("disabled")
	flag := filepath.Join(t.TempDir(), "flag")
	sw := mustSwitch(t, "heater", SwitchConfig{
		CommandOn:    "touch " + flag,
		CommandOff:   "rm -f " + flag,
		CommandState: "test -f " + flag,
		IconTemplate: `{{ if eq .Value "true" }}mdi:radiator{{ else }}mdi:radiator-off{{ end }}`,
	})
	refreshed := 0
	sw.SetRefresh(func() { refreshed++ })

	if got := sw.Snapshot().State; got != state.Unknown {
		t.Errorf("initial state = %s, expected unknown", got)
	}

	ctx := context.Background()
	if err := sw.TurnOn(ctx); err != nil {
		t.Fatalf("TurnOn returned %v", err)
	}
	if got := sw.Snapshot().State; got != state.Unknown {
		t.Errorf("state before the next poll = %s, expected unknown", got)
	}
	_ = sw.Update(ctx)
	snap := sw.Snapshot()
	if snap.State != state.On || snap.Icon != "mdi:radiator" {
		t.Errorf("after poll got (%s, %s), expected (on, mdi:radiator)", snap.State, snap.Icon)
	}

	_ = sw.TurnOff(ctx)
	_ = sw.Update(ctx)
	snap = sw.Snapshot()
	if snap.State != state.Off || snap.Icon != "mdi:radiator-off" {
		t.Errorf("after poll got (%s, %s), expected (off, mdi:radiator-off)", snap.State, snap.Icon)
	}
	if refreshed != 0 {
		t.Errorf("polled switch called refresh %d times, expected 0", refreshed)
	}
}

func TestNewSwitchValidation(t *testing.T) {
	tests := []struct {
		name string
		id   string
		cfg  SwitchConfig
		ok   bool
	}{
		{"defaults", "porch", SwitchConfig{}, true},
		{"uppercase id", "Porch", SwitchConfig{}, false},
		{"dash in id", "porch-light", SwitchConfig{}, false},
		{"zero timeout", "porch", SwitchConfig{CommandTimeout: intp(0)}, false},
		{"negative timeout", "porch", SwitchConfig{CommandTimeout: intp(-3)}, false},
		{"bad template", "porch", SwitchConfig{CommandState: "true", ValueTemplate: "{{ .Value "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSwitch(tt.id, tt.cfg, nil)
			if (err == nil) != tt.ok {
				t.Errorf("NewSwitch error = %v, expected ok=%v", err, tt.ok)
			}
		})
	}

	sw := mustSwitch(t, "porch", SwitchConfig{})
	cfg := sw.Config()
	if cfg.CommandOn != "true" || cfg.CommandOff != "true" {
		t.Errorf("default commands = (%q, %q), expected true", cfg.CommandOn, cfg.CommandOff)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("default timeout = %v, expected 15s", cfg.Timeout())
	}
	if info := sw.Info(); info.Name != "porch" || info.EntityID() != "switch.porch" {
		t.Errorf("info = %+v, expected name and id from the object id", info)
	}
}

const testConfig = `
command_line:
  switches:
    porch:
      command_on: "true"
      command_off: "true"
      friendly_name: Porch light
    heater:
      command_state: "exit 0"
      command_timeout: 3
      unique_id: heater-1
    Bad-Id:
      command_on: "true"
`

func TestLoadConfig(t *testing.T) {
	v := viper.New()
	v.SetDefault("command_line.scan_interval", 30*time.Second)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(testConfig)); err != nil {
		t.Fatalf("ReadConfig returned %v", err)
	}

	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig returned %v", err)
	}
	if cfg.ScanInterval != 30*time.Second {
		t.Errorf("ScanInterval = %v, expected 30s", cfg.ScanInterval)
	}
	if len(cfg.Switches) != 3 {
		t.Fatalf("expected 3 switch entries, got %d", len(cfg.Switches))
	}
	heater := cfg.Switches["heater"]
	if heater.CommandTimeout == nil || *heater.CommandTimeout != 3 {
		t.Errorf("heater timeout = %v, expected 3", heater.CommandTimeout)
	}

	switches := Build(cfg, nil)
	// viper lowercases keys, so Bad-Id arrives as bad-id and fails the slug check
	if len(switches) != 2 {
		t.Fatalf("expected 2 valid switches, got %d", len(switches))
	}
	if switches[0].Info().ObjectID != "heater" || switches[1].Info().Name != "Porch light" {
		t.Errorf("unexpected switches %+v, %+v", switches[0].Info(), switches[1].Info())
	}
	if switches[0].Info().UniqueID != "heater-1" {
		t.Errorf("unique id = %s, expected heater-1", switches[0].Info().UniqueID)
	}
}

func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	util.LogInitWriter("error", &buf)
	defer util.LogInit("disabled")

	saved := util.Config
	defer func() { util.Config = saved }()

	util.Config = viper.New()
	util.Config.SetConfigType("yaml")
	if err := util.Config.ReadConfig(strings.NewReader(testConfig)); err != nil {
		t.Fatalf("ReadConfig returned %v", err)
	}

	reg := state.NewRegistry()
	_, switches := Setup(reg, nil)
	if len(switches) != 2 || len(reg.BySource(Source)) != 2 {
		t.Fatalf("expected 2 registered switches, got %d", len(reg.BySource(Source)))
	}

	util.Config = viper.New()
	buf.Reset()
	_, switches = Setup(reg, nil)
	if len(switches) != 0 || len(reg.BySource(Source)) != 0 {
		t.Errorf("expected reload without switches to clear the registry")
	}
	if !strings.Contains(buf.String(), "No switches added") {
		t.Errorf("expected \"No switches added\" to be logged, got %q", buf.String())
	}
}

func TestTemplateRender(t *testing.T) {
	tmpl, err := ParseTemplate("t", `{{ .ValueJSON.state | lower }}`)
	if err != nil {
		t.Fatalf("ParseTemplate returned %v", err)
	}
	out, err := tmpl.Render(`{"state": "ON"}`)
	if err != nil || out != "on" {
		t.Errorf("Render = (%q, %v), expected on", out, err)
	}
	if _, err := tmpl.Render("not json"); err == nil {
		t.Error("expected a render error for non-JSON input")
	}
}

func TestSetupKeepsUnchangedSwitches(t *testing.T) {
	util.LogInit("disabled")
	saved := util.Config
	defer func() { util.Config = saved }()

	load := func(src string) {
		util.Config = viper.New()
		util.Config.SetConfigType("yaml")
		if err := util.Config.ReadConfig(strings.NewReader(src)); err != nil {
			t.Fatalf("ReadConfig returned %v", err)
		}
	}

	load(testConfig)
	reg := state.NewRegistry()
	var removed []string
	reg.OnChange(func(c state.Change) {
		if c.Removed {
			removed = append(removed, c.Entity.Info().EntityID())
		}
	})
	_, first := Setup(reg, nil)
	if err := reg.Toggle(context.Background(), "switch.porch", true); err != nil {
		t.Fatalf("Toggle returned %v", err)
	}

	// log_level only: every switch survives as is
	load("log_level: debug\n" + testConfig)
	_, second := Setup(reg, nil)
	if len(second) != len(first) {
		t.Fatalf("expected %d switches after reload, got %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("%s was rebuilt although its config did not change", first[i].Info().EntityID())
		}
	}
	if len(removed) != 0 {
		t.Errorf("reload removed %v", removed)
	}
	if snap, _ := reg.Published("switch.porch"); snap.State != state.On {
		t.Errorf("porch = %s after reload, expected on", snap.State)
	}

	load(strings.Replace(testConfig, "command_timeout: 3", "command_timeout: 4", 1))
	Setup(reg, nil)
	if e, _ := reg.Get("switch.heater"); e == state.Entity(first[0]) || e == state.Entity(first[1]) {
		t.Error("expected heater to be rebuilt after its config changed")
	}
	if e, _ := reg.Get("switch.porch"); e.(*Switch).Config().FriendlyName != "Porch light" {
		t.Error("porch lost its config")
	}
	if len(removed) != 0 {
		t.Errorf("reload removed %v", removed)
	}
}
