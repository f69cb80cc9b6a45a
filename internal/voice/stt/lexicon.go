// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     stt
// Description: Word lists for the hallucination filter
// Created:     2025-12-08
// License:     MIT
// ============================================================================

package stt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the filler and boilerplate lists
type Lexicon struct {
	// Fillers are rejected when the whole transcript equals one of them
	Fillers []string `yaml:"fillers"`

	// Boilerplate phrases are rejected anywhere in the transcript
	Boilerplate []string `yaml:"boilerplate"`
}

// DefaultLexicon returns the built-in Portuguese and English lists.
// Whisper emits these on silence, breathing and background noise.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Fillers: []string{
			// Portuguese
			"obrigado", "obrigada", "obrigado a todos", "muito obrigado",
			"tchau", "tchau tchau", "até mais", "até logo", "valeu",
			"ok", "okay", "tá", "tá bom", "certo", "hum", "humm", "hmm",
			"é", "ah", "eh", "oi", "e aí", "então", "legal", "beleza",
			// English
			"thank you", "thanks", "thank you very much", "bye", "bye bye",
			"you", "yeah", "uh", "um", "oh", "okay then", "so",
		},
		Boilerplate: []string{
			// Portuguese
			"inscreva-se", "inscrevam-se", "se inscreva", "ative o sininho",
			"deixe seu like", "deixe o seu like", "obrigado por assistir",
			"obrigada por assistir", "legendas pela comunidade",
			"legendado por", "legenda por", "amara.org", "até o próximo vídeo",
			"compartilhe esse vídeo",
			// English
			"thank you for watching", "thanks for watching", "please subscribe",
			"subscribe to", "like and subscribe", "subtitles by",
			"see you in the next video", "transcribed by",
		},
	}
}

// LoadLexicon reads a YAML lexicon file and merges it into the defaults
func LoadLexicon(path string) (Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return lex, fmt.Errorf("failed to read lexicon: %w", err)
	}

	var extra Lexicon
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return lex, fmt.Errorf("failed to parse lexicon %s: %w", path, err)
	}

	lex.Fillers = append(lex.Fillers, extra.Fillers...)
	lex.Boilerplate = append(lex.Boilerplate, extra.Boilerplate...)
	return lex, nil
}
