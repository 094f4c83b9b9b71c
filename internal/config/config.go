package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultServer   = "wss://warpmesh.qzz.io/ws"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURNUser = "warpmesh"

	DefaultWidth     = 1280
	DefaultHeight    = 720
	DefaultFrameRate = 30

	DefaultFallbackDelay  = 2 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

// Config holds application configuration
type Config struct {
	// ServerURL is the websocket endpoint of the signaling relay
	ServerURL string
	AuthToken string

	DisplayName string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// IncludeLoopback gathers 127.0.0.1 candidates. Only useful when every
	// participant runs on the same host (tests, demos).
	IncludeLoopback bool

	Media MediaConfig

	// FallbackDelay is how long the stream reconciler waits after an answer
	// before polling receivers for tracks that never produced OnTrack.
	FallbackDelay time.Duration

	// ConnectTimeout bounds negotiation; a session that has not connected
	// by then is treated as failed.
	ConnectTimeout time.Duration

	MetricsAddr string
}

// MediaConfig carries capture constraints and optional file sources.
type MediaConfig struct {
	Audio            bool   `yaml:"audio"`
	Video            bool   `yaml:"video"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FrameRate        int    `yaml:"frame_rate"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
	VideoFile        string `yaml:"video_file"`
	AudioFile        string `yaml:"audio_file"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile  string
	ServerURL   string
	AuthToken   string
	DisplayName string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	NoAudio     bool
	NoVideo     bool
	VideoFile   string
	AudioFile   string
	MetricsAddr string
}

// fileConfig mirrors the YAML layout accepted by --config.
type fileConfig struct {
	Server         string        `yaml:"server"`
	Token          string        `yaml:"token"`
	Name           string        `yaml:"name"`
	STUN           string        `yaml:"stun"`
	TURN           string        `yaml:"turn"`
	TURNUser       string        `yaml:"turn_user"`
	TURNPass       string        `yaml:"turn_pass"`
	ForceRelay     bool          `yaml:"force_relay"`
	Loopback       bool          `yaml:"include_loopback"`
	FallbackDelay  time.Duration `yaml:"fallback_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	Media          MediaConfig   `yaml:"media"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file (--config or WARPMESH_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, err := readFile(first(opts.ConfigFile, os.Getenv("WARPMESH_CONFIG")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerURL:       first(opts.ServerURL, os.Getenv("WARPMESH_SERVER"), file.Server, DefaultServer),
		AuthToken:       first(opts.AuthToken, os.Getenv("WARPMESH_TOKEN"), file.Token),
		DisplayName:     first(opts.DisplayName, os.Getenv("WARPMESH_NAME"), file.Name, defaultName()),
		STUNServer:      first(opts.STUNServer, os.Getenv("STUN_SERVER"), file.STUN, DefaultSTUN),
		TURNServer:      first(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURN),
		TURNUser:        first(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURNUser, DefaultTURNUser),
		TURNPass:        first(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURNPass),
		ForceRelay:      opts.ForceRelay || file.ForceRelay || envBool("WARPMESH_FORCE_RELAY"),
		IncludeLoopback: file.Loopback || envBool("WARPMESH_LOOPBACK"),
		FallbackDelay:   DefaultFallbackDelay,
		ConnectTimeout:  DefaultConnectTimeout,
		MetricsAddr:     first(opts.MetricsAddr, os.Getenv("WARPMESH_METRICS_ADDR"), file.MetricsAddr),
	}

	if file.FallbackDelay > 0 {
		cfg.FallbackDelay = file.FallbackDelay
	}
	if file.ConnectTimeout > 0 {
		cfg.ConnectTimeout = file.ConnectTimeout
	}
	cfg.Media = file.Media

	if opts.NoAudio {
		cfg.Media.Audio = false
	}
	if opts.NoVideo {
		cfg.Media.Video = false
	}
	cfg.Media.VideoFile = first(opts.VideoFile, cfg.Media.VideoFile)
	cfg.Media.AudioFile = first(opts.AudioFile, cfg.Media.AudioFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultMedia returns the capture constraints used when nothing overrides them.
func DefaultMedia() MediaConfig {
	return MediaConfig{
		Audio:            true,
		Video:            true,
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		FrameRate:        DefaultFrameRate,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Validate checks the fields that would otherwise fail deep inside a call.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", c.ServerURL)
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	if !c.Media.Audio && !c.Media.Video {
		return errors.New("at least one of audio or video must be enabled")
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers converts the STUN/TURN settings into pion's configuration form.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); turn != nil {
		username, password := c.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// TransportPolicy forces relay candidates when asked to, or when the host
// looks like it sits behind a VPN or CGNAT and TURN is available.
func (c *Config) TransportPolicy() webrtc.ICETransportPolicy {
	if c.GetTURNServers() != nil && (c.ForceRelay || ShouldForceRelay()) {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// readFile decodes path over the default media block, so a partial media
// section only overrides the keys it names.
func readFile(path string) (*fileConfig, error) {
	fc := fileConfig{Media: DefaultMedia()}
	if path == "" {
		return &fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func defaultName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "guest"
}
