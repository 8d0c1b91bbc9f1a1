package cmd

import (
	"context"
	"fmt"

	"github.com/elijahnyp/home_bridge/commandline"
	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var switchCmd = &cobra.Command{
	Use:       "switch <on|off|state> <object_id>",
	Short:     "Run a configured switch command once",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off", "state"},
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := runSwitch(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(switchCmd)
}

// runSwitch loads the configured switches into a registry of their own and
// returns the resulting state of objectID.
func runSwitch(ctx context.Context, action, objectID string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	registry := state.NewRegistry()
	commandline.Setup(registry, runner.Default)

	id := state.PlatformSwitch + "." + objectID
	if _, ok := registry.Get(id); !ok {
		return "", errors.Errorf("no switch %s configured", objectID)
	}

	var err error
	switch action {
	case "on":
		err = registry.Toggle(ctx, id, true)
	case "off":
		err = registry.Toggle(ctx, id, false)
	case "state":
		err = registry.Refresh(ctx, id)
	default:
		return "", errors.Errorf("unknown action %q", action)
	}
	if err != nil {
		return "", errors.Wrapf(err, "%s %s", action, id)
	}
	snap, _ := registry.Published(id)
	return snap.State, nil
}
