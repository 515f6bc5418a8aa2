package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "lifeos",
	Short: "Personal assistant for tasks, moods, habits and goals that remembers you",
	Long: `lifeos turns a message into organised tasks, emotional support, habit and
goal coaching or a reflection, and remembers your preferences between sessions.

Examples:
  lifeos chat "今天要写报告、开会、回复邮件"
  lifeos chat --file ./todo.md
  lifeos memory remember morning_productivity true
  lifeos serve`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+err.Error()))
		os.Exit(1)
	}
}
