package media

import (
	"fmt"

	"github.com/BioHazard786/warpmesh/internal/config"
)

const (
	maxDimension = 4096
	maxFrameRate = 120
)

// Constraints describe what the local capture should look like.
type Constraints struct {
	Audio bool
	Video bool

	Width     int
	Height    int
	FrameRate int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// ConstraintsFromConfig converts loaded configuration into capture constraints.
func ConstraintsFromConfig(mc config.MediaConfig) Constraints {
	return Constraints{
		Audio:            mc.Audio,
		Video:            mc.Video,
		Width:            mc.Width,
		Height:           mc.Height,
		FrameRate:        mc.FrameRate,
		EchoCancellation: mc.EchoCancellation,
		NoiseSuppression: mc.NoiseSuppression,
		AutoGainControl:  mc.AutoGainControl,
	}
}

// Validate rejects constraints no device could satisfy.
func (c Constraints) Validate() error {
	if !c.Audio && !c.Video {
		return fmt.Errorf("%w: neither audio nor video requested", ErrUnsatisfiable)
	}
	if !c.Video {
		return nil
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > maxDimension || c.Height > maxDimension {
		return fmt.Errorf("%w: resolution %dx%d", ErrUnsatisfiable, c.Width, c.Height)
	}
	if c.FrameRate <= 0 || c.FrameRate > maxFrameRate {
		return fmt.Errorf("%w: frame rate %d", ErrUnsatisfiable, c.FrameRate)
	}
	return nil
}
