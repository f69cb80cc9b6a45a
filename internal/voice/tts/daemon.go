// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: Client for a background synthesis daemon on a local socket
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package tts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
)

// DaemonRequest is one JSON line sent to the daemon
type DaemonRequest struct {
	Text           string  `json:"text"`
	Voice          string  `json:"voice,omitempty"`
	ReferenceVoice string  `json:"reference_voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// DaemonResponse is the JSON line the daemon answers with
type DaemonResponse struct {
	AudioPath string `json:"audio_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DaemonClient talks to a synthesis daemon. Each call uses its own
// connection: one request line, one response line. The daemon writes a WAV
// file and returns its path.
type DaemonClient struct {
	network string
	address string
	timeout time.Duration
	dialer  net.Dialer
}

// NewDaemonClient creates a daemon client
func NewDaemonClient(network, address string, timeout time.Duration) *DaemonClient {
	if network == "" {
		network = "unix"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &DaemonClient{
		network: network,
		address: address,
		timeout: timeout,
		dialer:  net.Dialer{Timeout: 2 * time.Second},
	}
}

// Name returns the engine name
func (d *DaemonClient) Name() string {
	return "daemon"
}

// Synthesize sends the request and loads the returned WAV file
func (d *DaemonClient) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	conn, err := d.dialer.DialContext(ctx, d.network, d.address)
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	req := DaemonRequest{
		Text:           text,
		Voice:          params.Voice,
		ReferenceVoice: params.ReferenceVoice,
		Speed:          params.Speed,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Audio{}, d.ioError(ctx, "send", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Audio{}, d.ioError(ctx, "read", err)
	}

	var resp DaemonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Audio{}, fmt.Errorf("invalid daemon response: %w", err)
	}
	if resp.Error != "" {
		return Audio{}, fmt.Errorf("daemon: %s", resp.Error)
	}
	if resp.AudioPath == "" {
		return Audio{}, errors.New("daemon returned no audio path")
	}

	samples, info, err := audio.ReadWAVFile(resp.AudioPath)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to load daemon audio: %w", err)
	}
	return Audio{Samples: samples, SampleRate: info.SampleRate}, nil
}

func (d *DaemonClient) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("daemon %s failed: %w", op, err)
}

// Close releases resources
func (d *DaemonClient) Close() error {
	return nil
}

// Fallback tries the primary engine and uses the secondary when the primary
// reports ErrDaemonUnavailable
type Fallback struct {
	primary   Synthesizer
	secondary Synthesizer
}

// NewFallback creates a fallback synthesizer
func NewFallback(primary, secondary Synthesizer) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Name returns both engine names
func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Synthesize runs the primary, falling back on ErrDaemonUnavailable
func (f *Fallback) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	a, err := f.primary.Synthesize(ctx, text, params)
	if err == nil || !errors.Is(err, ErrDaemonUnavailable) {
		return a, err
	}
	return f.secondary.Synthesize(ctx, text, params)
}

// Close closes both engines
func (f *Fallback) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}
