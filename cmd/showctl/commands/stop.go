package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active run",
	Long: `Stop ends the active run and returns the engine to idle. Timers are
cancelled and the run is recorded as stopped. Fails when nothing is
running.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	api, err := newClient()
	if err != nil {
		return err
	}

	if err := api.post("/api/v1/stop", "", nil, nil); err != nil {
		return err
	}

	fmt.Println("stopped")
	return nil
}
