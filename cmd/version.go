package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/elijahnyp/home_bridge/version"
	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// no config needed
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			out, err := json.Marshal(map[string]string{
				"version": version.Version,
				"go":      runtime.Version(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "home_bridge %s (%s)\n", version.Version, runtime.Version())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(versionCmd)
}
