package cmd

import (
	"fmt"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the capture providers and the devices each exposes.

Examples:
  warpmesh devices
  warpmesh devices --video-file clip.ivf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		providers := []media.Devices{media.SyntheticDevices{}}
		if flagVideoFile != "" || flagAudioFile != "" {
			providers = append(providers, captureDevices(config.MediaConfig{
				VideoFile: flagVideoFile,
				AudioFile: flagAudioFile,
			}))
		}
		for _, p := range providers {
			fmt.Println(ui.DevicesView(p.Name(), p.List()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVar(&flagVideoFile, "video-file", "", "IVF file to list as a video device")
	devicesCmd.Flags().StringVar(&flagAudioFile, "audio-file", "", "Ogg/Opus file to list as an audio device")
}
