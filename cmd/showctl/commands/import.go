package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file-or-dir> [file-or-dir...]",
	Short: "Import scene documents into the daemon's store",
	Long: `Import sends each document to the daemon, which validates it and saves
it to the store. A scene that is already present is replaced; the next
start of that scene runs the new version. A running show is not
disturbed.

Directories are imported one level deep: every *.json file inside,
hidden files skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	files, err := collectSceneFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scene documents found in %s", strings.Join(args, ", "))
	}

	api, err := newClient()
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range files {
		data, readErr := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if readErr != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, readErr)
			continue
		}

		var saved struct {
			SceneID string `json:"scene_id"`
			States  int    `json:"states"`
		}
		if postErr := api.post("/api/v1/scenes", "application/json", data, &saved); postErr != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, postErr)
			continue
		}
		fmt.Printf("OK   %s: %s (%d states)\n", path, saved.SceneID, saved.States)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed to import", failed, len(files))
	}
	return nil
}

// collectSceneFiles expands directory arguments into their *.json
// entries, keeping explicit file arguments as given.
func collectSceneFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", arg, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
				continue
			}
			files = append(files, filepath.Join(arg, name))
		}
	}
	return files, nil
}
