// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cmd
// Description: CLI command for the terminal pipeline monitor
// Created:     2025-12-18
// License:     MIT
// ============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/msto63/conversa/internal/monitor"
)

var (
	monitorURL      string
	monitorMaxTurns int
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"mon", "ui"},
	Short:   "Inicia o monitor do pipeline",
	Long: `Inicia o monitor interativo do pipeline.

O monitor conecta-se ao servidor de telemetria de um "conversa run"
e mostra em tempo real:

  - Estado da conversa e flags (ouvindo, falando, barge-in)
  - Ocupação das filas e descartes
  - Turnos concluídos, interrompidos e descartados

Atalhos:
  Tab / Enter  Digitar uma mensagem
  i            Interromper a fala
  a            Auto-scroll liga/desliga
  g / G        Ir ao início / fim
  PgUp/PgDn    Rolar
  c            Limpar turnos
  q / Ctrl+C   Sair`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	defaults := monitor.DefaultConfig()
	monitorCmd.Flags().StringVar(&monitorURL, "url", defaults.URL,
		"URL websocket da telemetria")
	monitorCmd.Flags().IntVar(&monitorMaxTurns, "max-turns", defaults.MaxTurns,
		"Número máximo de turnos exibidos")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := monitor.DefaultConfig()
	cfg.URL = monitorURL
	cfg.MaxTurns = monitorMaxTurns

	return monitor.Run(cfg)
}
