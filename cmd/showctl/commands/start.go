package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <scene-id>",
	Short: "Start a scene",
	Long: `Start asks the daemon to run the named scene. An active run is stopped
first; the new scene begins from its initial state.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	api, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		SceneID string `json:"scene_id"`
		RunID   string `json:"run_id"`
	}
	path := "/api/v1/scenes/" + url.PathEscape(args[0]) + "/start"
	if err := api.post(path, "", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("started %s (run %s)\n", resp.SceneID, resp.RunID)
	return nil
}
