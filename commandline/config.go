package commandline

import (
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultCommand = "true"
	DefaultTimeout = 15
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// SwitchConfig is one entry under command_line.switches.
type SwitchConfig struct {
	CommandOn      string `mapstructure:"command_on" json:"command_on"`
	CommandOff     string `mapstructure:"command_off" json:"command_off"`
	CommandState   string `mapstructure:"command_state" json:"command_state,omitempty"`
	ValueTemplate  string `mapstructure:"value_template" json:"value_template,omitempty"`
	IconTemplate   string `mapstructure:"icon_template" json:"icon_template,omitempty"`
	FriendlyName   string `mapstructure:"friendly_name" json:"friendly_name,omitempty"`
	CommandTimeout *int   `mapstructure:"command_timeout" json:"command_timeout,omitempty"`
	UniqueID       string `mapstructure:"unique_id" json:"unique_id,omitempty"`
}

type Config struct {
	ScanInterval time.Duration           `mapstructure:"scan_interval"`
	Switches     map[string]SwitchConfig `mapstructure:"switches"`
}

// LoadConfig reads the command_line section of v.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("command_line", &cfg); err != nil {
		return cfg, errors.Wrap(err, "loading command_line config")
	}
	// nested defaults are not merged into the section map
	cfg.ScanInterval = v.GetDuration("command_line.scan_interval")
	return cfg, nil
}

// ObjectIDs returns the configured switch ids in order.
func (c Config) ObjectIDs() []string {
	ids := make([]string, 0, len(c.Switches))
	for id := range c.Switches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// withDefaults validates sc and fills in the defaulted options.
func (sc SwitchConfig) withDefaults(objectID string) (SwitchConfig, error) {
	if !slugPattern.MatchString(objectID) {
		return sc, errors.Errorf("invalid slug %q", objectID)
	}
	if sc.CommandOn == "" {
		sc.CommandOn = DefaultCommand
	}
	if sc.CommandOff == "" {
		sc.CommandOff = DefaultCommand
	}
	if sc.CommandTimeout == nil {
		timeout := DefaultTimeout
		sc.CommandTimeout = &timeout
	} else if *sc.CommandTimeout <= 0 {
		return sc, errors.Errorf("command_timeout must be positive, got %d", *sc.CommandTimeout)
	}
	if sc.FriendlyName == "" {
		sc.FriendlyName = objectID
	}
	return sc, nil
}

func (sc SwitchConfig) Timeout() time.Duration {
	if sc.CommandTimeout == nil {
		return DefaultTimeout * time.Second
	}
	return time.Duration(*sc.CommandTimeout) * time.Second
}
