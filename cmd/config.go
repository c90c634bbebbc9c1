package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/posesync/internal/config"
	"github.com/andresmejia3/posesync/internal/utils"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaultConfig(configPath, configForce); err != nil {
			utils.Die("Failed to write configuration", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📝 Wrote default configuration to %s\n", configPath)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if err := showConfig(os.Stdout, configPath); err != nil {
			utils.Die("Failed to load configuration", err, nil)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return config.Save(path, config.Default())
}

func showConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
