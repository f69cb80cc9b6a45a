// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cmd
// Description: CLI command that runs the voice pipeline
// Created:     2025-12-18
// License:     MIT
// ============================================================================

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msto63/conversa/internal/app"
)

var (
	runLive bool
	runText bool
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Inicia o agente de voz",
	Long: `Inicia o pipeline completo do agente de voz.

Por padrão o agente fala e escuta alternadamente (half-duplex).
Com --live o microfone continua aberto durante a fala e uma nova
fala do usuário interrompe a resposta (barge-in).

Com --text não há captura de áudio: cada linha lida da entrada
padrão vira um turno, e as respostas continuam sendo faladas.

Exemplos:
  conversa run                  # Microfone e alto-falante
  conversa run --live           # Com barge-in
  conversa run --text           # Entrada por teclado
  conversa run -v --log-format json`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runLive, "live", false, "Modo duplex com interrupção por voz")
	runCmd.Flags().BoolVar(&runText, "text", false, "Entrada por texto em vez do microfone")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("configuração", err)
		return err
	}
	if cmd.Flags().Changed("live") {
		cfg.General.Live = runLive
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := app.New(ctx, app.Options{Config: cfg, TextOnly: runText})
	if err != nil {
		printError("inicialização", err)
		return err
	}
	defer agent.Close()

	fmt.Println(Banner)
	fmt.Println(strings.Repeat("=", len([]rune(Banner))))
	if runText {
		fmt.Println("Entrada:     texto (uma linha por turno)")
	} else {
		fmt.Printf("Entrada:     microfone (%d Hz)\n", cfg.Audio.SampleRate)
	}
	fmt.Printf("Barge-in:    %v\n", cfg.General.Live && !runText)
	fmt.Printf("Voz:         %s (%s)\n", cfg.TTS.Engine, cfg.STT.Engine)
	if cfg.Telemetry.Enabled {
		fmt.Printf("Telemetria:  %s\n", cfg.Telemetry.Listen)
	}
	if s := agent.Session(); s != nil {
		fmt.Printf("Sessão:      %s\n", s.ID)
	}
	fmt.Println()

	if runText {
		go readTurns(ctx, agent)
	}

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		printError("pipeline", err)
		return err
	}
	return nil
}

// readTurns submits every stdin line until EOF or shutdown
func readTurns(ctx context.Context, agent *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := agent.Submit(scanner.Text()); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Turno ignorado: %v\n", err)
		}
	}
}
