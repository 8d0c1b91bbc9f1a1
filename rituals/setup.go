package rituals

import (
	"context"
	"time"

	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const Source = "rituals"

type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Email          string        `mapstructure:"email"`
	Password       string        `mapstructure:"password"`
	BaseURL        string        `mapstructure:"base_url"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func LoadConfig(v *viper.Viper) Config {
	return Config{
		Enabled:        v.GetBool("rituals.enabled"),
		Email:          v.GetString("rituals.email"),
		Password:       v.GetString("rituals.password"),
		BaseURL:        v.GetString("rituals.base_url"),
		UpdateInterval: v.GetDuration("rituals.update_interval"),
		Timeout:        v.GetDuration("rituals.timeout"),
	}
}

// Setup logs in, refreshes every diffuser once and registers the sensors
// that apply to each. The returned coordinators still have to be Run.
func Setup(ctx context.Context, reg *state.Registry, cfg Config) ([]*Coordinator, error) {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 30 * time.Second
	}
	client := NewClient(cfg)
	if err := client.Authenticate(ctx); err != nil {
		return nil, errors.Wrap(err, "rituals setup")
	}
	diffusers, err := client.Diffusers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rituals setup")
	}

	coordinators := make([]*Coordinator, 0, len(diffusers))
	for _, d := range diffusers {
		coordinators = append(coordinators, NewCoordinator(client, d, cfg.UpdateInterval))
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, c := range coordinators {
		g.Go(func() error {
			return c.Refresh(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		util.Logger.Error().Msgf("rituals first refresh: %v", err)
	}

	var entities []state.Entity
	for _, c := range coordinators {
		for _, desc := range Descriptions {
			if !desc.applies(c.Diffuser()) {
				util.Logger.Debug().Msgf("rituals: %s has no %s", c.Diffuser().Name(), desc.Key)
				continue
			}
			entities = append(entities, NewSensor(c, desc))
		}
	}
	if err := reg.Replace(Source, entities...); err != nil {
		return coordinators, errors.Wrap(err, "registering rituals sensors")
	}
	util.Logger.Info().Msgf("%d rituals diffusers, %d sensors", len(coordinators), len(entities))
	return coordinators, nil
}
