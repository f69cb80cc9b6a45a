// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     stt
// Description: Hallucination filter for transcripts
// Created:     2025-12-08
// License:     MIT
// ============================================================================

package stt

import (
	"strings"
	"unicode"
)

// Reason explains a filter verdict
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonEmpty       Reason = "empty"
	ReasonFiller      Reason = "filler"
	ReasonDegenerate  Reason = "degenerate"
	ReasonBoilerplate Reason = "boilerplate"
	ReasonTooShort    Reason = "too_short"
)

// maxDegenerateAlphabet is the largest set of distinct non-space
// characters still treated as repetition noise
const maxDegenerateAlphabet = 3

// Verdict is the outcome of Filter.Check
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	// Match is the filler or boilerplate entry that caused the rejection
	Match string `json:"match,omitempty"`
}

// Filter rejects transcripts that are likely engine hallucinations
type Filter struct {
	fillers     map[string]struct{}
	boilerplate []string
	minChars    int
}

// NewFilter creates a filter. Lexicon entries are normalized the same way
// transcripts are.
func NewFilter(lex Lexicon, minChars int) *Filter {
	f := &Filter{
		fillers:  make(map[string]struct{}, len(lex.Fillers)),
		minChars: minChars,
	}
	for _, w := range lex.Fillers {
		if n := Normalize(w); n != "" {
			f.fillers[n] = struct{}{}
		}
	}
	for _, b := range lex.Boilerplate {
		if n := Normalize(b); n != "" {
			f.boilerplate = append(f.boilerplate, n)
		}
	}
	return f
}

// Check classifies a transcript
func (f *Filter) Check(text string) Verdict {
	norm := Normalize(text)
	if norm == "" {
		return Verdict{Reason: ReasonEmpty}
	}

	if _, ok := f.fillers[norm]; ok {
		return Verdict{Reason: ReasonFiller, Match: norm}
	}

	alphabet := make(map[rune]struct{})
	for _, r := range norm {
		if r != ' ' {
			alphabet[r] = struct{}{}
		}
	}
	if len(alphabet) <= maxDegenerateAlphabet {
		return Verdict{Reason: ReasonDegenerate}
	}

	for _, b := range f.boilerplate {
		if strings.Contains(norm, b) {
			return Verdict{Reason: ReasonBoilerplate, Match: b}
		}
	}

	if len([]rune(norm)) < f.minChars {
		return Verdict{Reason: ReasonTooShort}
	}

	return Verdict{Accepted: true}
}

// Normalize lower-cases text, turns punctuation into spaces and collapses
// whitespace. Letters keep their diacritics.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
