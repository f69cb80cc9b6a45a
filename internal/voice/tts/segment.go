// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: Sentence segmentation for incremental synthesis
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package tts

import (
	"strings"
	"unicode"
)

// minSegmentRunes merges very short sentences into the next one
const minSegmentRunes = 12

// SplitSentences splits text at sentence punctuation followed by space.
// Short sentences are merged forward so each segment is worth a synthesis call.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			raw = append(raw, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		raw = append(raw, s)
	}

	var out []string
	var pending string
	for _, s := range raw {
		if pending != "" {
			s = pending + " " + s
			pending = ""
		}
		if len([]rune(s)) < minSegmentRunes {
			pending = s
			continue
		}
		out = append(out, s)
	}
	if pending != "" {
		if len(out) > 0 {
			out[len(out)-1] += " " + pending
		} else {
			out = append(out, pending)
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', ';':
		return true
	}
	return false
}
