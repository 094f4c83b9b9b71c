package media

import (
	"errors"
	"fmt"
	"io/fs"
)

// Errors returned by device providers. Acquire classifies them into an ErrorKind.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceBusy       = errors.New("device busy")
	ErrUnsatisfiable    = errors.New("constraints cannot be satisfied")
	ErrReleased         = errors.New("local session released")
)

// ErrorKind classifies why local media could not be acquired.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	PermissionDenied
	DeviceNotFound
	DeviceBusy
	ConstraintsUnsatisfiable
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case DeviceBusy:
		return "device_busy"
	case ConstraintsUnsatisfiable:
		return "constraints_unsatisfiable"
	default:
		return "unknown"
	}
}

// Remediation returns a hint the user can act on.
func (k ErrorKind) Remediation() string {
	switch k {
	case PermissionDenied:
		return "Grant camera and microphone access to this program, then join again."
	case DeviceNotFound:
		return "Connect a camera or microphone, or pass --video-file/--audio-file."
	case DeviceBusy:
		return "Close other applications using the camera or microphone and retry."
	case ConstraintsUnsatisfiable:
		return "Lower the requested resolution or frame rate."
	default:
		return "Run with LOG_LEVEL=debug for details."
	}
}

// AcquisitionError is returned by Manager.Acquire.
type AcquisitionError struct {
	Kind   ErrorKind
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("acquire %s: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("acquire media: %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, fs.ErrNotExist):
		return DeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		return DeviceBusy
	case errors.Is(err, ErrUnsatisfiable):
		return ConstraintsUnsatisfiable
	default:
		return Unknown
	}
}
