package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/foreign/layout"
)

var layoutCmd = &cobra.Command{
	Use:   "layout <type>...",
	Short: "Show size, alignment and scalar leaves of layouts",
	Long: `Show the size, alignment and flattened scalar leaves of each type.
Types are scalar names (int32, double, address, ...), WIT primitives,
arrays such as int32[4], or layouts declared in the manifest. With no
arguments every declared layout is shown.`,
	RunE: runLayout,
}

var (
	nameColor   = color.New(color.FgCyan, color.Bold)
	layoutColor = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

func runLayout(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if err := s.requireBinding(); err != nil {
			return err
		}
		args = s.binding.LayoutNames()
	}

	out := cmd.OutOrStdout()
	for _, expr := range args {
		l, err := s.layout(expr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", nameColor.Sprint(expr), layoutColor.Sprint(l))
		fmt.Fprintf(out, "  size %d align %d on %s\n", l.Size(), l.Align(), s.target.Name())
		for _, lf := range layout.Flatten(l) {
			fmt.Fprintf(out, "  %s %s\n", dimColor.Sprintf("+%-4d", lf.Offset), lf.Kind)
		}
	}
	return nil
}
