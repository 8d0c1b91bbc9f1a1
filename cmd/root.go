package cmd

import (
	"fmt"
	"os"

	"github.com/elijahnyp/home_bridge/util"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "home_bridge",
	Short: "Bridge command line switches and Rituals diffusers to Home Assistant over MQTT",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.SetupConfig(configFile)
		util.LogInit(util.Config.GetString("log_level"))
	},
	SilenceUsage: true,
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default searches ./, ./config, /etc and /home_bridge)")
	rootCmd.PersistentFlags().String("log-level", "info", "trace, debug, info, warn, error or disabled")
	errPanic(util.Config.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
