package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var buttonCmd = &cobra.Command{
	Use:   "button <button-id>",
	Short: "Simulate a button press",
	Long: `Button injects a press as if the physical button had published on its
topic. While idle it starts the default scene; during a run it fires
any matching button transition in the current state. Unmatched presses
are dropped, which is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runButton,
}

func init() {
	rootCmd.AddCommand(buttonCmd)
}

func runButton(cmd *cobra.Command, args []string) error {
	api, err := newClient()
	if err != nil {
		return err
	}

	path := "/api/v1/button/" + url.PathEscape(args[0])
	if err := api.post(path, "", nil, nil); err != nil {
		return err
	}

	fmt.Printf("pressed %s\n", args[0])
	return nil
}
