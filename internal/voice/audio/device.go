// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     audio
// Description: PortAudio microphone source, speaker player and device listing
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// DefaultBufferFrames is the playback write size; an interrupt takes effect
// within one buffer
const DefaultBufferFrames = 1024

// DeviceConfig holds configuration for a PortAudio input
type DeviceConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int    // samples per channel per Read
	DeviceName string // empty = default
}

// DeviceSource reads frames from a PortAudio input device
type DeviceSource struct {
	mu          sync.Mutex
	cfg         DeviceConfig
	stream      *portaudio.Stream
	buffer      []float32
	initialized bool
}

// NewDeviceSource creates a microphone source. The device is opened by Open.
func NewDeviceSource(cfg DeviceConfig) *DeviceSource {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = cfg.SampleRate * 30 / 1000
	}
	return &DeviceSource{cfg: cfg}
}

// Open initializes PortAudio and starts the input stream
func (s *DeviceSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}
	if !s.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
		s.initialized = true
	}

	s.buffer = make([]float32, s.cfg.FrameSize*s.cfg.Channels)

	var stream *portaudio.Stream
	var err error

	device, findErr := findDevice(s.cfg.DeviceName, true)
	if findErr != nil {
		stream, err = portaudio.OpenDefaultStream(
			s.cfg.Channels, // input channels
			0,              // output channels (none)
			float64(s.cfg.SampleRate),
			s.cfg.FrameSize,
			s.buffer,
		)
	} else {
		stream, err = portaudio.OpenStream(portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: s.cfg.Channels,
				Latency:  device.DefaultLowInputLatency,
			},
			SampleRate:      float64(s.cfg.SampleRate),
			FramesPerBuffer: s.cfg.FrameSize,
		}, s.buffer)
	}
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	s.stream = stream
	return nil
}

// Read blocks until the next frame is captured. The returned slice is reused
// by the next call.
func (s *DeviceSource) Read() ([]float32, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil, errors.New("audio stream not open")
	}
	if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	return s.buffer, nil
}

// Close stops the stream and releases PortAudio
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.stream != nil {
		s.stream.Stop()
		err = s.stream.Close()
		s.stream = nil
	}
	if s.initialized {
		portaudio.Terminate()
		s.initialized = false
	}
	return err
}

// SampleRate returns the capture rate
func (s *DeviceSource) SampleRate() int { return s.cfg.SampleRate }

// Channels returns the channel count
func (s *DeviceSource) Channels() int { return s.cfg.Channels }

// Player writes samples to an output device. Play returns early with
// ctx.Err() when ctx is cancelled.
type Player interface {
	Play(ctx context.Context, samples []float32, sampleRate int) error
}

// DevicePlayer plays mono float32 audio through PortAudio
type DevicePlayer struct {
	deviceName   string
	bufferFrames int
	playing      atomic.Bool
}

// NewDevicePlayer creates a speaker output
func NewDevicePlayer(deviceName string, bufferFrames int) *DevicePlayer {
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}
	return &DevicePlayer{deviceName: deviceName, bufferFrames: bufferFrames}
}

// Play writes samples buffer by buffer and checks ctx between writes
func (p *DevicePlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	if !p.playing.CompareAndSwap(false, true) {
		return errors.New("already playing")
	}
	defer p.playing.Store(false)

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, p.bufferFrames)

	var stream *portaudio.Stream
	var err error
	device, findErr := findDevice(p.deviceName, false)
	if findErr != nil {
		stream, err = portaudio.OpenDefaultStream(0, 1, float64(sampleRate), p.bufferFrames, &buffer)
	} else {
		stream, err = portaudio.OpenStream(portaudio.StreamParameters{
			Output: portaudio.StreamDeviceParameters{
				Device:   device,
				Channels: 1,
				Latency:  device.DefaultLowOutputLatency,
			},
			SampleRate:      float64(sampleRate),
			FramesPerBuffer: p.bufferFrames,
		}, &buffer)
	}
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	for position := 0; position < len(samples); position += p.bufferFrames {
		if err := ctx.Err(); err != nil {
			stream.Abort()
			return err
		}
		n := copy(buffer, samples[position:])
		for i := n; i < len(buffer); i++ {
			buffer[i] = 0
		}
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			stream.Abort()
			return fmt.Errorf("failed to write to stream: %w", err)
		}
	}
	return stream.Stop()
}

// IsPlaying returns whether audio is currently playing
func (p *DevicePlayer) IsPlaying() bool {
	return p.playing.Load()
}

// DeviceInfo holds information about an audio device
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
}

// ListDevices returns all input and output devices
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultIn, defaultOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil && d != nil {
		defaultIn = d.Name
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil && d != nil {
		defaultOut = d.Name
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		info := DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    dev.Name == defaultIn,
			IsDefaultOutput:   dev.Name == defaultOut,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// findDevice finds a PortAudio device by name. PortAudio must be initialized.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		return nil, errors.New("default device requested")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 || !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}
