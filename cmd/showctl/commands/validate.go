package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calliope-av/showrunner/internal/scene"
)

var validateEndState string

var validateCmd = &cobra.Command{
	Use:   "validate <file.json> [file.json...]",
	Short: "Validate scene documents without importing them",
	Long: `Validate parses each document with the same rules the daemon applies
on load: discriminators must be known, transition targets must exist,
every non-terminal state must be able to reach somewhere, and the
terminal state must be declared with no transitions.

Nothing is written anywhere; this is the pre-flight check to run before
copying documents onto the exhibit machine.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateEndState, "end-state", "END", "terminal state name the documents must use")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	loader := scene.NewLoader(validateEndState)

	failed := 0
	for _, path := range args {
		sc, err := loader.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Printf("OK   %s: %s (%d states, initial %q)\n", path, sc.SceneID, len(sc.States), sc.InitialState)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failed, len(args))
	}
	return nil
}
