package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/conversa/pkg/core/config"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Banner names the agent in the CLI
const Banner = "conversa - Agente de voz"

var (
	cfgFile   string
	verbose   bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "conversa",
	Short: Banner + " em tempo real",
	Long: `conversa é um agente de voz local em tempo real.

Pipeline:
  captura     - microfone (PortAudio)
  vad         - detecção adaptativa de fala
  transcrição - Whisper (CLI ou servidor HTTP)
  cognição    - LLMs com fallback entre provedores
  síntese     - Piper ou daemon TTS
  reprodução  - alto-falante, com interrupção por voz (barge-in)`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Arquivo de configuração (padrão: ./configs/conversa.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Saída detalhada")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Formato do log (console, json)")
}

// loadConfig reads the configuration and sets up logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}

	opts := logging.Options{Level: cfg.General.LogLevel, Format: cfg.General.LogFormat}
	if verbose {
		opts.Level = "debug"
	}
	if logFormat != "" {
		opts.Format = logFormat
	}
	logging.Configure(opts)
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Erro: %s: %v\n", msg, err)
}
