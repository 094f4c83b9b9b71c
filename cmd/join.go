package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/warpmesh/internal/call"
	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/media"
	"github.com/BioHazard786/warpmesh/internal/metrics"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagConfig      string
	flagName        string
	flagServer      string
	flagToken       string
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagVideoFile   string
	flagAudioFile   string
	flagNoVideo     bool
	flagNoAudio     bool
	flagMetricsAddr string
	flagPlain       bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a call room",
	Long: `Join a room and connect to everyone in it.

Without capture files, a synthetic test pattern and silent audio are sent.

Examples:
  warpmesh join standup
  warpmesh join standup --name alice --video-file clip.ivf --audio-file voice.ogg
  warpmesh join standup --server wss://relay.example.com/ws --token s3cret
  warpmesh join standup --no-video --plain`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := config.Load(config.Options{
		ConfigFile:  flagConfig,
		ServerURL:   flagServer,
		AuthToken:   flagToken,
		DisplayName: flagName,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		NoAudio:     flagNoAudio,
		NoVideo:     flagNoVideo,
		VideoFile:   flagVideoFile,
		AudioFile:   flagAudioFile,
		MetricsAddr: flagMetricsAddr,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	c := call.New(call.Options{
		RoomID:      roomID,
		DisplayName: cfg.DisplayName,
		Config:      cfg,
		Devices:     captureDevices(cfg.Media),
		Logger:      logger,
	})

	sp := ui.NewConnectionSpinner(fmt.Sprintf("Joining %s as %s...", roomID, cfg.DisplayName))
	sp.Start()
	if err := c.Start(ctx); err != nil {
		sp.Error("Could not join " + roomID)
		return explainStartError(err)
	}
	sp.Stop()
	started := time.Now()

	fmt.Println(ui.RoomBanner(roomID, c.SelfID(), cfg.ServerURL))

	var stats ui.CallStats
	if flagPlain {
		stats = runPlain(ctx, c)
	} else {
		stats, err = ui.RunCallView(ctx, c, roomID)
	}

	c.Leave()

	status := "Left"
	if err != nil {
		status = "UI error"
	}
	fmt.Println()
	ui.RenderSummary(ui.CallSummary{
		RoomID:       roomID,
		Duration:     time.Since(started),
		Participants: stats.Participants,
		Streams:      stats.Streams,
		Status:       status,
	})
	return err
}

func captureDevices(m config.MediaConfig) media.Devices {
	return media.FileDevices{
		VideoPath: m.VideoFile,
		AudioPath: m.AudioFile,
		Fallback:  media.SyntheticDevices{},
	}
}

// explainStartError adds what the user can do about a failed start.
func explainStartError(err error) error {
	var acqErr *media.AcquisitionError
	if errors.As(err, &acqErr) {
		ui.PrintWarning(acqErr.Kind.Remediation())
		return err
	}

	var connErr *signaling.ConnectionError
	if errors.As(err, &connErr) {
		if connErr.StatusCode == 401 || connErr.StatusCode == 403 {
			ui.PrintWarning("The relay rejected the token. Check --token or WARPMESH_TOKEN.")
		} else {
			ui.PrintWarning("Could not reach the relay at " + connErr.Endpoint)
		}
	}
	return err
}

// runPlain prints events as lines until the call ends or ctx is cancelled.
func runPlain(ctx context.Context, c *call.Controller) ui.CallStats {
	var stats ui.CallStats
	seen := make(map[string]bool)

	ui.PrintInfo("Press Ctrl+C to leave")
	for {
		select {
		case <-ctx.Done():
			return stats
		case e, ok := <-c.Events():
			if !ok {
				return stats
			}
			switch e.Kind {
			case call.ParticipantJoined:
				if !seen[e.ParticipantID] {
					seen[e.ParticipantID] = true
					stats.Participants++
				}
			case call.RemoteStreamReady:
				stats.Streams++
			}
			fmt.Printf("%s %s\n", e.At.Format("15:04:05"), e)
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVarP(&flagServer, "server", "S", "", "Signaling relay websocket URL")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "Relay auth token")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force TURN relay")
	joinCmd.Flags().StringVar(&flagVideoFile, "video-file", "", "IVF file to send as video (VP8, VP9 or AV1)")
	joinCmd.Flags().StringVar(&flagAudioFile, "audio-file", "", "Ogg/Opus file to send as audio")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Do not send video")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not send audio")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print events instead of the interactive view")
}
