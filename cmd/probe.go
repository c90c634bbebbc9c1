package cmd

import (
	"fmt"

	"github.com/andresmejia3/posesync/internal/config"
	"github.com/andresmejia3/posesync/internal/utils"
	"github.com/spf13/cobra"
)

var probeDevice string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report the frame size a capture device negotiates",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			utils.Die("Failed to load configuration", err, nil)
		}
		if probeDevice != "" {
			cfg.Capture.Device = probeDevice
		}

		c := cfg.Capture.Constraints
		w, h, err := utils.ProbeDevice(cmd.Context(), utils.CaptureArgs{
			Device:    cfg.Capture.Device,
			Format:    cfg.Capture.Format,
			Width:     c.Width.Ideal,
			Height:    c.Height.Ideal,
			FrameRate: c.FrameRate,
		})
		if err != nil {
			utils.Die(fmt.Sprintf("Failed to probe %s", cfg.Capture.Device), err, nil)
		}

		verdict := "✅ within constraints"
		if !c.Accepts(w, h) {
			verdict = fmt.Sprintf("❌ outside constraints (%d-%d x %d-%d)", c.Width.Min, c.Width.Max, c.Height.Min, c.Height.Max)
		}
		fmt.Printf("📷 %s: %dx%d %s\n", cfg.Capture.Device, w, h, verdict)
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeDevice, "device", "d", "", "Capture device (default from config)")
	rootCmd.AddCommand(probeCmd)
}
