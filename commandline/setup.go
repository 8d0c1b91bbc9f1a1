package commandline

import (
	"reflect"

	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
)

// Build creates the configured switches. Invalid entries are logged and
// skipped.
func Build(cfg Config, r *runner.Runner) []*Switch {
	switches := make([]*Switch, 0, len(cfg.Switches))
	for _, id := range cfg.ObjectIDs() {
		sw, err := NewSwitch(id, cfg.Switches[id], r)
		if err != nil {
			util.Logger.Error().Msgf("Skipping %v", err)
			continue
		}
		switches = append(switches, sw)
	}
	return switches
}

// Setup loads the command_line section from util.Config and replaces the
// registered switches with it. It is run again on every config change.
func Setup(reg *state.Registry, r *runner.Runner) (Config, []*Switch) {
	cfg, err := LoadConfig(util.Config)
	if err != nil {
		util.Logger.Error().Msgf("%v", err)
		return cfg, nil
	}
	switches := Build(cfg, r)
	if len(switches) == 0 {
		util.Logger.Error().Msg("No switches added")
	}
	entities := make([]state.Entity, 0, len(switches))
	for i, sw := range switches {
		if prev, ok := reg.Get(sw.Info().EntityID()); ok {
			if prev, ok := prev.(*Switch); ok && reflect.DeepEqual(prev.Config(), sw.Config()) {
				// unchanged, keep its state
				switches[i] = prev
			}
		}
		entities = append(entities, switches[i])
	}
	if err := reg.Replace(Source, entities...); err != nil {
		util.Logger.Error().Msgf("Error registering switches: %v", err)
	}
	util.Logger.Info().Msgf("%d command line switches", len(switches))
	return cfg, switches
}
