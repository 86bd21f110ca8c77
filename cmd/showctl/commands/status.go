package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and engine status",
	Long: `Status reports the engine's current scene, state, and phase, broker
connectivity, device presence counts, and daemon uptime.

Use --json for the raw API response.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	api, err := newClient()
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := api.get("/api/v1/status", &raw); err != nil {
		return err
	}

	if statusJSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("formatting response: %w", err)
		}
		fmt.Println(buf.String())
		return nil
	}

	var st struct {
		Version       string  `json:"version"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Engine        struct {
			SceneID   string `json:"scene_id"`
			RunID     string `json:"run_id"`
			State     string `json:"state"`
			Phase     string `json:"phase"`
			Connected bool   `json:"connected"`
		} `json:"engine"`
		Devices struct {
			Total  int `json:"total"`
			Online int `json:"online"`
		} `json:"devices"`
		ScenesLoaded int `json:"scenes_loaded"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	w := os.Stdout
	fmt.Fprintf(w, "daemon:   %s, up %s\n", st.Version, (time.Duration(st.UptimeSeconds) * time.Second).String())
	if st.Engine.Phase == "idle" {
		fmt.Fprintf(w, "engine:   idle\n")
	} else {
		fmt.Fprintf(w, "engine:   %s in state %q (%s), run %s\n",
			st.Engine.SceneID, st.Engine.State, st.Engine.Phase, st.Engine.RunID)
	}
	broker := "disconnected"
	if st.Engine.Connected {
		broker = "connected"
	}
	fmt.Fprintf(w, "broker:   %s\n", broker)
	fmt.Fprintf(w, "devices:  %d online of %d known\n", st.Devices.Online, st.Devices.Total)
	fmt.Fprintf(w, "scenes:   %d loaded\n", st.ScenesLoaded)
	return nil
}
