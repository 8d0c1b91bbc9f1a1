// Package commandline exposes switches driven by shell commands.
package commandline

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/pkg/errors"
)

const Source = "command_line"

// Switch runs command_on/command_off to toggle and command_state, when set,
// to read its state back. Without a state command the state is assumed from
// the last successful toggle.
type Switch struct {
	objectID string
	cfg      SwitchConfig
	value    *Template
	icon     *Template
	runner   *runner.Runner

	mu      sync.Mutex
	state   string
	iconVal string
	updated time.Time
	refresh func()
}

// NewSwitch validates cfg and builds the switch object_id.
func NewSwitch(objectID string, cfg SwitchConfig, r *runner.Runner) (*Switch, error) {
	cfg, err := cfg.withDefaults(objectID)
	if err != nil {
		return nil, errors.Wrapf(err, "switch %s", objectID)
	}
	if r == nil {
		r = runner.Default
	}
	s := &Switch{
		objectID: objectID,
		cfg:      cfg,
		runner:   r,
		state:    state.Off,
	}
	if cfg.CommandState != "" {
		s.state = state.Unknown
	}
	if cfg.ValueTemplate != "" {
		if s.value, err = ParseTemplate(objectID+"_value", cfg.ValueTemplate); err != nil {
			return nil, errors.Wrapf(err, "switch %s", objectID)
		}
	}
	if cfg.IconTemplate != "" {
		if s.icon, err = ParseTemplate(objectID+"_icon", cfg.IconTemplate); err != nil {
			return nil, errors.Wrapf(err, "switch %s", objectID)
		}
	}
	return s, nil
}

func (s *Switch) Info() state.Info {
	return state.Info{
		Platform:     state.PlatformSwitch,
		ObjectID:     s.objectID,
		UniqueID:     s.cfg.UniqueID,
		Name:         s.cfg.FriendlyName,
		AssumedState: s.cfg.CommandState == "",
	}
}

func (s *Switch) Config() SwitchConfig {
	return s.cfg
}

func (s *Switch) Polled() bool {
	return s.cfg.CommandState != ""
}

func (s *Switch) SetRefresh(fn func()) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

func (s *Switch) Snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.Snapshot{
		State:     s.state,
		Icon:      s.iconVal,
		Name:      s.cfg.FriendlyName,
		UpdatedAt: s.updated,
	}
}

func (s *Switch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == state.On
}

func (s *Switch) set(st, icon string) {
	s.mu.Lock()
	s.state = st
	s.iconVal = icon
	s.updated = time.Now()
	s.mu.Unlock()
}

// Update queries the state command. Without a state command it does
// nothing.
func (s *Switch) Update(ctx context.Context) error {
	if s.cfg.CommandState == "" {
		return nil
	}
	var payload, value string
	answered := false
	if s.value != nil {
		util.Logger.Info().Msgf("Running state value command: %s", s.cfg.CommandState)
		var err error
		if payload, answered = s.runner.CheckOutput(ctx, s.cfg.CommandState, s.cfg.Timeout()); answered && payload != "" {
			if value, err = s.value.Render(payload); err != nil {
				util.Logger.Warn().Msgf("%v", err)
			}
		}
	} else {
		util.Logger.Info().Msgf("Running state code command: %s", s.cfg.CommandState)
		// -1 is a timeout, a spawn failure or a signal: no answer
		if code := s.runner.CallWithTimeout(ctx, s.cfg.CommandState, s.cfg.Timeout(), false); code >= 0 {
			answered = true
			payload = strconv.FormatBool(code == 0)
		}
	}

	st := state.Unknown
	switch {
	case !answered:
		payload = ""
	case value != "":
		st = state.BoolState(strings.EqualFold(value, "true"))
	case payload != "":
		st = state.BoolState(strings.EqualFold(payload, "true"))
	}
	s.set(st, s.renderIcon(payload))
	return nil
}

func (s *Switch) renderIcon(payload string) string {
	if s.icon == nil {
		return ""
	}
	icon, err := s.icon.Render(payload)
	if err != nil {
		util.Logger.Warn().Msgf("%v", err)
		return ""
	}
	return icon
}

func (s *Switch) TurnOn(ctx context.Context) error {
	return s.toggle(ctx, s.cfg.CommandOn, state.On)
}

func (s *Switch) TurnOff(ctx context.Context) error {
	return s.toggle(ctx, s.cfg.CommandOff, state.Off)
}

func (s *Switch) toggle(ctx context.Context, command, target string) error {
	util.Logger.Info().Msgf("Running command: %s", command)
	if code := s.runner.CallWithTimeout(ctx, command, s.cfg.Timeout(), true); code != 0 {
		util.Logger.Error().Msgf("Command failed: %s", command)
		return errors.Errorf("command failed: %s", command)
	}
	if s.cfg.CommandState != "" {
		return nil
	}
	s.mu.Lock()
	s.state = target
	s.updated = time.Now()
	refresh := s.refresh
	s.mu.Unlock()
	if refresh != nil {
		refresh()
	}
	return nil
}
