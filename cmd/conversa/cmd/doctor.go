package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/conversa/internal/app"
	"github.com/msto63/conversa/pkg/core/health"
)

var doctorText bool

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Aliases: []string{"status", "health"},
	Short:   "Verifica as dependências do agente",
	Long: `Verifica os componentes externos que o agente usa:

dispositivos de áudio, Whisper, provedores LLM, Piper e o daemon TTS.
Provedores indisponíveis e um daemon TTS ausente apenas degradam
o estado, porque existem alternativas.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&doctorText, "text", false, "Ignora áudio e Whisper (modo texto)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("configuração", err)
		return err
	}

	providers, err := app.BuildProviders(cfg)
	if err != nil && !errors.Is(err, app.ErrNoProviders) {
		return err
	}

	registry := app.NewHealthRegistry(cfg, providers, app.HealthOptions{
		Audio:       !doctorText,
		Transcriber: !doctorText,
		Synthesizer: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	report := registry.Check(ctx)

	fmt.Println("conversa Diagnóstico")
	fmt.Println("====================")
	fmt.Println()
	for _, c := range report.Checks {
		fmt.Printf("  %s %-14s %s\n", statusIcon(c.Status), c.Name, c.Message)
	}
	if len(providers) == 0 {
		fmt.Println("  [-] llm            nenhum provedor habilitado")
	}
	fmt.Println()

	switch {
	case report.Status == health.StatusUnhealthy || len(providers) == 0:
		fmt.Println("Faltam componentes obrigatórios.")
		return fmt.Errorf("health: %s", health.StatusUnhealthy)
	case report.Status == health.StatusDegraded:
		fmt.Println("Pronto, com alternativas em uso.")
	default:
		fmt.Println("Tudo pronto.")
	}
	return nil
}

func statusIcon(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return "[+]"
	case health.StatusDegraded:
		return "[~]"
	default:
		return "[-]"
	}
}
