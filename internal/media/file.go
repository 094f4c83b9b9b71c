package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusClockRate = 48000

// FileDevices loops an IVF video file and an Ogg/Opus audio file. A kind
// with no path is served by Fallback, if set.
type FileDevices struct {
	VideoPath string
	AudioPath string
	Fallback  Devices
}

func (d FileDevices) Name() string {
	if d.Fallback != nil {
		return "file+" + d.Fallback.Name()
	}
	return "file"
}

func (d FileDevices) List() []DeviceInfo {
	var out []DeviceInfo
	if d.AudioPath != "" {
		out = append(out, DeviceInfo{ID: d.AudioPath, Label: filepath.Base(d.AudioPath), Kind: webrtc.RTPCodecTypeAudio})
	}
	if d.VideoPath != "" {
		out = append(out, DeviceInfo{ID: d.VideoPath, Label: filepath.Base(d.VideoPath), Kind: webrtc.RTPCodecTypeVideo})
	}
	if d.Fallback != nil {
		for _, info := range d.Fallback.List() {
			if (info.Kind == webrtc.RTPCodecTypeAudio && d.AudioPath == "") ||
				(info.Kind == webrtc.RTPCodecTypeVideo && d.VideoPath == "") {
				out = append(out, info)
			}
		}
	}
	return out
}

func (d FileDevices) Open(ctx context.Context, kind webrtc.RTPCodecType, c Constraints) (Source, DeviceInfo, error) {
	path := d.AudioPath
	if kind == webrtc.RTPCodecTypeVideo {
		path = d.VideoPath
	}
	if path == "" {
		if d.Fallback != nil {
			return d.Fallback.Open(ctx, kind, c)
		}
		return nil, DeviceInfo{}, fmt.Errorf("%w: no %s file configured", ErrDeviceNotFound, kind)
	}

	info := DeviceInfo{ID: path, Label: filepath.Base(path), Kind: kind}
	var (
		src Source
		err error
	)
	if kind == webrtc.RTPCodecTypeVideo {
		src, err = openIVF(path)
	} else {
		src, err = openOgg(path)
	}
	if err != nil {
		return nil, DeviceInfo{}, err
	}
	return src, info, nil
}

// loopingFile reopens its reader from the start of the file on EOF.
type loopingFile struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

func (l *loopingFile) rewind() error {
	_, err := l.file.Seek(0, io.SeekStart)
	return err
}

func (l *loopingFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

type ivfSource struct {
	loopingFile
	codec    webrtc.RTPCodecCapability
	reader   *ivfreader.IVFReader
	duration time.Duration
}

func openIVF(path string) (*ivfSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsatisfiable, path, err)
	}

	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	case "AV01":
		mime = webrtc.MimeTypeAV1
	default:
		file.Close()
		return nil, fmt.Errorf("%w: unsupported IVF codec %q", ErrUnsatisfiable, header.FourCC)
	}

	duration := time.Second / 30
	if header.TimebaseDenominator != 0 {
		duration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	return &ivfSource{
		loopingFile: loopingFile{file: file},
		codec:       webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000},
		reader:      reader,
		duration:    duration,
	}, nil
}

func (s *ivfSource) Codec() webrtc.RTPCodecCapability {
	return s.codec
}

func (s *ivfSource) NextSample() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Sample{}, io.EOF
	}

	frame, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) {
		if err = s.rewind(); err == nil {
			s.reader, _, err = ivfreader.NewWith(s.file)
		}
		if err == nil {
			frame, _, err = s.reader.ParseNextFrame()
		}
	}
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.duration}, nil
}

type oggSource struct {
	loopingFile
	reader  *oggreader.OggReader
	granule uint64
}

func openOgg(path string) (*oggSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsatisfiable, path, err)
	}
	return &oggSource{loopingFile: loopingFile{file: file}, reader: reader}, nil
}

func (s *oggSource) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
}

// NextSample returns one Ogg page. The duration comes from the granule
// position delta, in 48kHz samples.
func (s *oggSource) NextSample() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Sample{}, io.EOF
	}

	page, header, err := s.reader.ParseNextPage()
	if errors.Is(err, io.EOF) {
		if err = s.rewind(); err == nil {
			s.reader, _, err = oggreader.NewWith(s.file)
			s.granule = 0
		}
		if err == nil {
			page, header, err = s.reader.ParseNextPage()
		}
	}
	if err != nil {
		return media.Sample{}, err
	}

	var duration time.Duration
	if header.GranulePosition > s.granule {
		samples := header.GranulePosition - s.granule
		duration = time.Duration(samples) * time.Second / opusClockRate
	}
	s.granule = header.GranulePosition
	return media.Sample{Data: page, Duration: duration}, nil
}
