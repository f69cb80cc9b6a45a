// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Persona and prompt assembly with context collaborators
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cognition

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/msto63/conversa/pkg/core/logging"
	"gopkg.in/yaml.v3"
)

// Persona describes the assistant character
type Persona struct {
	Name         string   `yaml:"name"`
	Language     string   `yaml:"language"`
	Instructions string   `yaml:"instructions"`
	Animations   []string `yaml:"animations"`
}

// DefaultPersona returns the built-in persona
func DefaultPersona() Persona {
	return Persona{
		Name:     "Conversa",
		Language: "pt",
		Instructions: "Você é Conversa, uma assistente de voz amigável. " +
			"Responda de forma curta e natural, em frases que soem bem quando faladas em voz alta.",
		Animations: []string{"neutral", "happy", "thinking", "surprised", "sad"},
	}
}

// LoadPersona reads a YAML persona. Missing fields keep their defaults.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read persona: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse persona %s: %w", path, err)
	}
	return p, nil
}

// System returns the system prompt including the response schema
func (p Persona) System() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instructions))
	b.WriteString("\n\nAnswer ONLY with one JSON object with exactly these fields:\n")
	b.WriteString(`{"speech_text": string, "log_text": string, "animation_tag": string, "vision_command_flag": boolean}`)
	b.WriteString("\nspeech_text is spoken aloud")
	if p.Language != "" {
		fmt.Fprintf(&b, " in language %q", p.Language)
	}
	b.WriteString(". log_text is a short note for the log.")
	if len(p.Animations) > 0 {
		fmt.Fprintf(&b, " animation_tag is one of: %s.", strings.Join(p.Animations, ", "))
	}
	b.WriteString(" vision_command_flag is true only if the user asks you to look at something.")
	return b.String()
}

// ContextSource supplies optional prompt context, e.g. conversation memory
// or a description of what the camera sees
type ContextSource interface {
	Name() string
	Context(ctx context.Context, req Request) (string, error)
}

// PromptBuilder assembles provider prompts
type PromptBuilder struct {
	persona Persona
	sources []ContextSource
	timeout time.Duration
	logger  *logging.Logger
}

// NewPromptBuilder creates a builder. Each source gets at most timeout.
func NewPromptBuilder(persona Persona, timeout time.Duration, sources ...ContextSource) *PromptBuilder {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &PromptBuilder{
		persona: persona,
		sources: sources,
		timeout: timeout,
		logger:  logging.New("prompt"),
	}
}

// Build returns the prompt for req. A failing or slow source contributes nothing.
func (b *PromptBuilder) Build(ctx context.Context, req Request) llm.Prompt {
	system := b.persona.System()
	for i, text := range b.gather(ctx, req) {
		if text == "" {
			continue
		}
		system += fmt.Sprintf("\n\n## %s\n%s", b.sources[i].Name(), text)
	}

	user := req.Text
	if req.Attachment != "" {
		user += "\n\n" + req.Attachment
	}
	return llm.Prompt{
		System:   system,
		Messages: []llm.Message{{Role: "user", Content: user}},
	}
}

func (b *PromptBuilder) gather(ctx context.Context, req Request) []string {
	results := make([]string, len(b.sources))
	if len(b.sources) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, src := range b.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.query(ctx, src, req)
		}()
	}
	wg.Wait()
	return results
}

func (b *PromptBuilder) query(ctx context.Context, src ContextSource, req Request) string {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		t, err := src.Context(ctx, req)
		ch <- result{t, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			b.logger.Debug("Context source failed", "source", src.Name(), "error", r.err)
			return ""
		}
		return strings.TrimSpace(r.text)
	case <-ctx.Done():
		b.logger.Debug("Context source timed out", "source", src.Name())
		return ""
	}
}
