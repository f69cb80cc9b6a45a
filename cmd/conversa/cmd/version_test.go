package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msto63/conversa/pkg/core/version"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	text := out.String()
	assert.Contains(t, text, version.Info())
	assert.Contains(t, text, "Telemetria: "+version.Telemetry)
	assert.Contains(t, text, "Daemon TTS: "+version.TTSDaemon)
}

func TestBanner(t *testing.T) {
	assert.Equal(t, "conversa - Agente de voz", Banner)
	assert.True(t, strings.HasPrefix(rootCmd.Short, Banner))
}
