package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/memory"
)

var callCmd = &cobra.Command{
	Use:   "call <function> [arg]...",
	Short: "Call a function declared in the manifest",
	Long: `Call a declared function with arguments given as text. Scalars are
written as Go literals; structs as {v1, v2, ...}; null passes a null
address.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

var resultColor = color.New(color.FgGreen, color.Bold)

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	lib, closeLib, err := s.library(ctx)
	if err != nil {
		return err
	}
	defer closeLib()

	out, err := invokeText(ctx, s, lib, args[0], args[1:])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resultColor.Sprint(out))
	return nil
}

// invokeText binds name from lib and calls it with textual arguments.
func invokeText(ctx context.Context, s *session, lib linker.Library, name string, text []string) (string, error) {
	fn, ok := s.binding.Functions[name]
	if !ok {
		return "", fmt.Errorf("function %q is not declared in the manifest", name)
	}
	h, err := linker.NewWithDefaults(s.target).Lookup(lib, name, fn.Descriptor, fn.Options()...)
	if err != nil {
		return "", err
	}
	fd := fn.Descriptor
	if len(text) != fd.NumArgs() {
		return "", fmt.Errorf("%s takes %d arguments, got %d", name, fd.NumArgs(), len(text))
	}

	arena := memory.NewConfined()
	defer arena.Close()

	args := make([]any, len(text))
	for i, t := range text {
		if args[i], err = parseArg(t, fd.Arg(i), arena); err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
	}
	v, err := h.Invoke(ctx, arena, args...)
	if err != nil {
		return "", err
	}
	return formatResult(v, fd.Return())
}
