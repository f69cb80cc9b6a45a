// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Processing requests and agent responses
// Created:     2025-12-09
// License:     MIT
// ============================================================================

// Package cognition turns accepted transcripts into validated agent
// responses. It guards provider calls with a sliding-window rate limiter
// and a duplicate request cache and falls back to a fixed apology when
// every provider fails.
package cognition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/conversa/internal/voice/stt"
)

// ErrInvalidResponse is returned when provider output does not match the schema
var ErrInvalidResponse = errors.New("invalid agent response")

// Request is one user turn. It produces exactly one engine invocation.
type Request struct {
	ID              string
	Text            string
	Attachment      string
	ForcedAnimation string
	Source          string
	Generation      uint64
	At              time.Time
}

// NewRequest creates a request with a fresh correlation id
func NewRequest(text string, generation uint64) Request {
	return Request{
		ID:         uuid.NewString(),
		Text:       text,
		Source:     stt.SourceVoice,
		Generation: generation,
		At:         time.Now(),
	}
}

// RequestFromTranscript creates the request for an accepted transcript
func RequestFromTranscript(tr stt.Transcript, generation uint64) Request {
	req := NewRequest(tr.Text, generation)
	if tr.Source != "" {
		req.Source = tr.Source
	}
	req.ForcedAnimation = tr.Animation
	return req
}

// Response is a validated agent reply
type Response struct {
	SpeechText    string `json:"speech_text"`
	LogText       string `json:"log_text"`
	AnimationTag  string `json:"animation_tag"`
	VisionCommand bool   `json:"vision_command_flag"`

	RequestID  string        `json:"-"`
	Generation uint64        `json:"-"`
	Provider   string        `json:"-"`
	Cached     bool          `json:"-"`
	Fallback   bool          `json:"-"`
	Latency    time.Duration `json:"-"`
}

// Origin describes where the response came from, for logs and events
func (r Response) Origin() string {
	switch {
	case r.Fallback:
		return "fallback"
	case r.Cached:
		return "cache:" + r.Provider
	default:
		return r.Provider
	}
}

var requiredFields = []string{"speech_text", "log_text", "animation_tag", "vision_command_flag"}

// ParseResponse extracts the first balanced JSON object from raw provider
// output and validates it. All four fields must be present; speech_text and
// animation_tag must be non-empty.
func ParseResponse(raw string) (Response, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return Response{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj, &fields); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, name := range requiredFields {
		v, ok := fields[name]
		if !ok || bytes.Equal(v, []byte("null")) {
			return Response{}, fmt.Errorf("%w: missing field %s", ErrInvalidResponse, name)
		}
	}

	var resp Response
	if err := json.Unmarshal(obj, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.SpeechText == "" {
		return Response{}, fmt.Errorf("%w: empty speech_text", ErrInvalidResponse)
	}
	if resp.AnimationTag == "" {
		return Response{}, fmt.Errorf("%w: empty animation_tag", ErrInvalidResponse)
	}
	return resp, nil
}

// extractJSON returns the first balanced {...} object, honoring strings
// and escapes
func extractJSON(raw string) ([]byte, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(raw[start : i+1]), nil
			}
		}
	}

	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON object", ErrInvalidResponse)
	}
	return nil, fmt.Errorf("%w: unbalanced JSON object", ErrInvalidResponse)
}

// FallbackConfig holds the reply used when every provider failed
type FallbackConfig struct {
	Text      string
	Animation string
}

// Fallback returns the constant apology response
func Fallback(cfg FallbackConfig) Response {
	text := cfg.Text
	if text == "" {
		text = "Desculpe, não consegui processar isso agora. Pode repetir?"
	}
	anim := cfg.Animation
	if anim == "" {
		anim = "neutral"
	}
	return Response{
		SpeechText:   text,
		LogText:      "fallback: all providers failed",
		AnimationTag: anim,
		Provider:     "fallback",
		Fallback:     true,
	}
}
