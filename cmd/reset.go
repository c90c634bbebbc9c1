package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/posesync/internal/config"
	"github.com/andresmejia3/posesync/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB       bool
	resetOverlays bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Session history, Overlay dumps)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetOverlays {
			resetDB = true
			resetOverlays = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetOverlays {
			cfg, err := config.Load(configPath)
			if err != nil {
				utils.Die("Failed to load configuration", err, nil)
			}
			dir := cfg.Overlay.DumpDir
			if dir == "" {
				fmt.Println("ℹ️  No overlay dump directory configured, nothing to clear.")
			} else if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all overlay dumps in %s?", dir)) {
				fmt.Println("🗑️  Clearing Overlay Dumps...")
				removeDir(dir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "sessions", false, "Clear recorded capture sessions")
	resetCmd.Flags().BoolVar(&resetOverlays, "overlays", false, "Clear saved overlay PNGs")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
