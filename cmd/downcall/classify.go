package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/foreign/abi"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <function|signature>",
	Short: "Show how a call is passed under a calling convention",
	Long: `Classify a declared function, or an inline signature such as
"func(a: int32, b: pair) -> pair", and print where every argument and
the result travel.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("format", "text", "output format (text|json|msgpack)")
	classifyCmd.Flags().Int("variadic", -1, "index of the first variadic argument")
}

// planView is the exported form of a plan.
type planView struct {
	Target     string    `json:"target" msgpack:"target"`
	Descriptor string    `json:"descriptor" msgpack:"descriptor"`
	Args       []argView `json:"args" msgpack:"args"`
	Return     retView   `json:"return" msgpack:"return"`
	Slots      []string  `json:"slots,omitempty" msgpack:"slots,omitempty"`
	StackSize  uint64    `json:"stack_size" msgpack:"stack_size"`
	GPRegs     int       `json:"gp_regs" msgpack:"gp_regs"`
	FPRegs     int       `json:"fp_regs" msgpack:"fp_regs"`
	Variadic   int       `json:"first_variadic" msgpack:"first_variadic"`
}

type argView struct {
	Layout   string     `json:"layout" msgpack:"layout"`
	Mode     string     `json:"mode" msgpack:"mode"`
	Parts    []partView `json:"parts" msgpack:"parts"`
	Variadic bool       `json:"variadic,omitempty" msgpack:"variadic,omitempty"`
}

type retView struct {
	Mode    string     `json:"mode" msgpack:"mode"`
	Layout  string     `json:"layout,omitempty" msgpack:"layout,omitempty"`
	Pointer string     `json:"pointer,omitempty" msgpack:"pointer,omitempty"`
	Parts   []partView `json:"parts,omitempty" msgpack:"parts,omitempty"`
}

type partView struct {
	Loc    string `json:"loc" msgpack:"loc"`
	Class  string `json:"class" msgpack:"class"`
	Offset uint64 `json:"offset" msgpack:"offset"`
	Size   uint64 `json:"size" msgpack:"size"`
}

func viewPlan(p *abi.Plan) planView {
	regs := p.Target.Registers()
	parts := func(ps []abi.Part, ret bool) []partView {
		out := make([]partView, len(ps))
		for i, part := range ps {
			loc := regs.Name(part.Loc)
			if ret {
				loc = regs.ReturnName(part.Loc)
			}
			out[i] = partView{Loc: loc, Class: part.Class.String(), Offset: part.Offset, Size: part.Size}
		}
		return out
	}

	v := planView{
		Target:     p.Target.Name(),
		Descriptor: p.Descriptor.String(),
		StackSize:  p.StackSize,
		GPRegs:     p.GPRegsUsed,
		FPRegs:     p.FPRegsUsed,
		Variadic:   p.FirstVariadic,
	}
	for _, a := range p.Args {
		v.Args = append(v.Args, argView{
			Layout:   a.Layout.String(),
			Mode:     a.Mode.String(),
			Parts:    parts(a.Parts, false),
			Variadic: a.Variadic,
		})
	}
	v.Return = retView{Mode: p.Return.Mode.String(), Parts: parts(p.Return.Parts, true)}
	if p.Return.Layout != nil {
		v.Return.Layout = p.Return.Layout.String()
	}
	if p.Return.Mode == abi.RetHidden {
		v.Return.Pointer = regs.Name(p.Return.Pointer)
	}
	for _, s := range p.Slots {
		v.Slots = append(v.Slots, s.String())
	}
	return v
}

func runClassify(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	variadic, err := cmd.Flags().GetInt("variadic")
	if err != nil {
		return err
	}

	fd, _, err := s.descriptor(args[0])
	if err != nil {
		return err
	}
	opts := abi.Options{}
	if variadic >= 0 {
		opts = abi.Variadic(variadic)
	} else if s.binding != nil {
		if fn, ok := s.binding.Functions[args[0]]; ok && fn.FirstVariadic >= 0 {
			opts = abi.Variadic(fn.FirstVariadic)
		}
	}
	plan, err := s.target.Classify(fd, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "text":
		return writePlanText(out, viewPlan(plan))
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(viewPlan(plan))
	case "msgpack":
		data, err := msgpack.Marshal(viewPlan(plan))
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q (text|json|msgpack)", format)
}

var (
	modeColor = color.New(color.FgGreen)
	locColor  = color.New(color.FgMagenta)
)

func writePlanText(w io.Writer, v planView) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", nameColor.Sprint(v.Target), v.Descriptor)
	for i, a := range v.Args {
		variadic := ""
		if a.Variadic {
			variadic = dimColor.Sprint(" variadic")
		}
		fmt.Fprintf(&b, "  arg%d %s %s%s\n", i, layoutColor.Sprint(a.Layout), modeColor.Sprint(a.Mode), variadic)
		writeParts(&b, a.Parts)
	}
	fmt.Fprintf(&b, "  ret %s", modeColor.Sprint(v.Return.Mode))
	if v.Return.Layout != "" {
		fmt.Fprintf(&b, " %s", layoutColor.Sprint(v.Return.Layout))
	}
	if v.Return.Pointer != "" {
		fmt.Fprintf(&b, " via %s", locColor.Sprint(v.Return.Pointer))
	}
	b.WriteByte('\n')
	writeParts(&b, v.Return.Parts)
	if len(v.Slots) > 0 {
		fmt.Fprintf(&b, "  slots (%s)\n", strings.Join(v.Slots, ", "))
	}
	fmt.Fprintf(&b, "  %s\n", dimColor.Sprintf("stack %d gp %d fp %d", v.StackSize, v.GPRegs, v.FPRegs))
	_, err := io.WriteString(w, b.String())
	return err
}

func writeParts(b *strings.Builder, parts []partView) {
	for _, p := range parts {
		fmt.Fprintf(b, "    [%d+%d] %-7s %s\n", p.Offset, p.Size, p.Class, locColor.Sprint(p.Loc))
	}
}
