package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/foreign/engine"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
)

var rootCmd = &cobra.Command{
	Use:   "downcall",
	Short: "Inspect layouts and call native functions through C calling conventions",
	Long: `downcall computes C layouts and calling-convention plans and invokes
functions declared in a TOML manifest.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := cmd.Flags().GetString("color")
		if err != nil {
			return err
		}
		switch mode {
		case "auto":
			color.NoColor = !isTerminal(os.Stdout)
		case "on":
			color.NoColor = false
		case "off":
			color.NoColor = true
		default:
			return fmt.Errorf("unknown color mode %q (auto|on|off)", mode)
		}

		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		if verbose {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			linker.SetLogger(log.Named("linker"))
			memory.SetLogger(log.Named("memory"))
			engine.SetLogger(log.Named("engine"))
		}
		return nil
	},
}

func main() {
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(interactiveCmd)

	rootCmd.PersistentFlags().StringP("manifest", "m", "", "library manifest (TOML)")
	rootCmd.PersistentFlags().StringP("target", "t", "", "calling convention (sysv|aapcs64|wasm32|host); overrides the manifest")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log bindings, arenas and module loads")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
