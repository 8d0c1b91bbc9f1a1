package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elijahnyp/home_bridge/commandline"
	"github.com/elijahnyp/home_bridge/hass"
	"github.com/elijahnyp/home_bridge/rituals"
	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/elijahnyp/home_bridge/version"
	"github.com/elijahnyp/home_bridge/web"
	"github.com/spf13/cobra"
)

var shutdownWait time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runBridge(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&shutdownWait, "graceful-timeout", 15*time.Second, "how long to wait for running commands on shutdown")
	runCmd.Flags().Int("details-port", 8080, "port of the status server")
	errPanic(util.Config.BindPFlag("details_port", runCmd.Flags().Lookup("details-port")))
	rootCmd.AddCommand(runCmd)
}

func runBridge() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	util.RegisterNewConfigListener(func() { util.LogInit(util.Config.GetString("log_level")) })

	pool := runner.NewPool(util.Config.GetInt("executor.workers"))
	registry := state.NewRegistry()

	bridge := hass.NewBridge(registry, pool)
	bridge.Register()
	util.RegisterNewConfigListener(bridge.Reload)

	hub := web.NewHub()
	go hub.Run(ctx)
	registry.OnChange(hub.OnChange)

	cfg, _ := commandline.Setup(registry, runner.Default)
	scheduler := state.NewScheduler(registry, pool, commandline.Source, cfg.ScanInterval)
	util.RegisterNewConfigListener(func() {
		cfg, _ := commandline.Setup(registry, runner.Default)
		scheduler.SetInterval(cfg.ScanInterval)
	})
	go scheduler.Run(ctx)

	if rcfg := rituals.LoadConfig(util.Config); rcfg.Enabled {
		coordinators, err := rituals.Setup(ctx, registry, rcfg)
		if err != nil {
			util.Logger.Error().Msgf("Error setting up rituals: %v", err)
		}
		for _, c := range coordinators {
			go c.Run(ctx)
		}
	}

	if err := util.MqttInit(); err != nil {
		util.Logger.Error().Msgf("%v", err)
	}
	util.RegisterNewConfigListener(func() {
		if err := util.MqttInit(); err != nil {
			util.Logger.Error().Msgf("%v", err)
		}
	})

	monitor := util.NewMonitorServer()
	web.NewAPI(registry, pool, hub, version.Version).Register(monitor)
	if err := monitor.Start(); err != nil {
		util.Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	util.RegisterNewConfigListener(func() { monitor.Restart() })

	go bridge.Run(ctx, util.Config.GetDuration("advertise_interval"))
	util.Logger.Info().Msg("ready")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal
	<-c
	util.Logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownWait)
	defer done()
	if err := monitor.Shutdown(shutdownCtx); err != nil {
		util.Logger.Error().Msgf("Error shutting down monitor server: %v", err)
	}

	drained := make(chan struct{})
	go func() {
		pool.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		util.Logger.Warn().Msg("commands still running at exit")
	}

	if client := util.Client; client != nil && client.IsConnected() {
		client.Publish(util.OnlineTopic(), 0, true, "offline").WaitTimeout(time.Second)
		client.Disconnect(250)
	}
	util.Logger.Info().Msg("exiting")
	return nil
}
