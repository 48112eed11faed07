// Package config loads library bindings from TOML manifests.
//
// A manifest names a target and a library, declares struct and union
// layouts, and lists function signatures:
//
//	target  = "sysv"
//	library = "testlib"
//
//	[[layout]]
//	name = "pair"
//	members = [
//	    { name = "e1", type = "int32" },
//	    { name = "e2", type = "int32" },
//	]
//
//	[[function]]
//	name      = "add2IntStructs_returnStruct"
//	signature = "func(a: pair, b: pair) -> pair"
//
// Layouts may reference layouts declared before them. Functions may also set
// first_variadic, critical or allow_heap; allow_heap implies critical.
package config

import (
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker"
)

// Manifest is the decoded form of a manifest file.
type Manifest struct {
	Target    string        `toml:"target"`
	Library   string        `toml:"library"`
	Module    string        `toml:"module"`
	Layouts   []LayoutDef   `toml:"layout"`
	Functions []FunctionDef `toml:"function"`
}

// LayoutDef declares a named struct or union.
type LayoutDef struct {
	Name    string      `toml:"name"`
	Kind    string      `toml:"kind"`
	Rules   string      `toml:"rules"`
	Members []MemberDef `toml:"members"`
}

// MemberDef is one member of a layout. Padding members have no name.
type MemberDef struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// FunctionDef declares a function signature.
type FunctionDef struct {
	FirstVariadic *int   `toml:"first_variadic"`
	Name          string `toml:"name"`
	Signature     string `toml:"signature"`
	Critical      bool   `toml:"critical"`
	AllowHeap     bool   `toml:"allow_heap"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}
	if err := validate(meta, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Parse decodes and validates a manifest held in memory.
func Parse(data string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.Decode(data, &m)
	if err != nil {
		return nil, errors.ParseFailed("manifest", err)
	}
	if err := validate(meta, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validate(meta toml.MetaData, m *Manifest) error {
	if !meta.IsDefined("library") || strings.TrimSpace(m.Library) == "" {
		return missing("library")
	}
	if !meta.IsDefined("function") || len(m.Functions) == 0 {
		return missing("[[function]]")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Value(undecoded[0].String()).
			Detail("unknown manifest key %s", undecoded[0]).
			Build()
	}
	for i, f := range m.Functions {
		if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Signature) == "" {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Value(i).
				Detail("function %d needs a name and a signature", i).
				Build()
		}
	}
	return nil
}

func missing(key string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Detail("manifest is missing %s", key).
		Build()
}

// Function is a resolved function declaration.
type Function struct {
	Descriptor    *abi.FunctionDescriptor
	Name          string
	FirstVariadic int
	Critical      bool
	// AllowHeap implies Critical.
	AllowHeap bool
}

// Options returns the downcall options the declaration asks for.
func (f Function) Options() []linker.DowncallOption {
	var opts []linker.DowncallOption
	if f.FirstVariadic >= 0 {
		opts = append(opts, linker.FirstVariadicArg(f.FirstVariadic))
	}
	if f.Critical || f.AllowHeap {
		opts = append(opts, linker.Critical(f.AllowHeap))
	}
	return opts
}

// Binding is a manifest resolved against its target.
type Binding struct {
	Target    abi.Target
	Layouts   map[string]layout.Layout
	Functions map[string]Function
	Library   string
	Module    string
	order     []string
}

// Resolve builds the layouts and descriptors the manifest declares.
func (m *Manifest) Resolve() (*Binding, error) {
	target, err := abi.Lookup(m.Target)
	if err != nil {
		return nil, err
	}
	b := &Binding{
		Target:    target,
		Layouts:   make(map[string]layout.Layout),
		Functions: make(map[string]Function),
		Library:   m.Library,
		Module:    m.Module,
	}
	resolve := TypeResolver(target, b.Layouts)

	for _, def := range m.Layouts {
		if _, dup := b.Layouts[def.Name]; dup {
			return nil, duplicate("layout", def.Name)
		}
		l, err := buildLayout(def, target, resolve)
		if err != nil {
			return nil, err
		}
		b.Layouts[def.Name] = l
		b.order = append(b.order, def.Name)
	}

	for _, def := range m.Functions {
		if _, dup := b.Functions[def.Name]; dup {
			return nil, duplicate("function", def.Name)
		}
		fd, err := ParseSignature(def.Signature, resolve)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "function "+def.Name)
		}
		fn := Function{Name: def.Name, Descriptor: fd, FirstVariadic: -1, Critical: def.Critical, AllowHeap: def.AllowHeap}
		if def.FirstVariadic != nil {
			fn.FirstVariadic = *def.FirstVariadic
		}
		b.Functions[def.Name] = fn
	}
	return b, nil
}

func duplicate(what, name string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Value(name).
		Detail("duplicate %s %q", what, name).
		Build()
}

func buildLayout(def LayoutDef, target abi.Target, resolve Resolver) (layout.Layout, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "layout without a name")
	}
	members := make([]layout.Layout, 0, len(def.Members))
	for _, md := range def.Members {
		l, err := resolve(md.Type)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path(def.Name, md.Name).
				Cause(err).
				Detail("member type %q", md.Type).
				Build()
		}
		if md.Name != "" {
			l = l.WithName(md.Name)
		}
		members = append(members, l)
	}

	var (
		g   *layout.Group
		err error
	)
	switch strings.ToLower(def.Kind) {
	case "", "struct":
		rules := target.Rules()
		switch strings.ToLower(def.Rules) {
		case "":
		case "natural":
			rules = layout.Natural
		case "power":
			rules = layout.Power
		default:
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path(def.Name).
				Detail("unknown packing rules %q", def.Rules).
				Build()
		}
		g, err = layout.StructWith(rules, members...)
	case "union":
		g, err = layout.Union(members...)
	default:
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(def.Name).
			Detail("unknown layout kind %q", def.Kind).
			Build()
	}
	if err != nil {
		return nil, err
	}
	return g.WithName(def.Name), nil
}

// LayoutNames lists the declared layouts in declaration order.
func (b *Binding) LayoutNames() []string {
	return append([]string(nil), b.order...)
}

// FunctionNames lists the declared functions in sorted order.
func (b *Binding) FunctionNames() []string {
	names := make([]string, 0, len(b.Functions))
	for name := range b.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind binds every declared function from lib. Missing symbols are
// reported together.
func (b *Binding) Bind(l *linker.Linker, lib linker.Library) (map[string]*linker.Handle, error) {
	if l.Target().Name() != b.Target.Name() {
		return nil, errors.New(errors.PhaseBind, errors.KindUnsupported).
			Detail("manifest targets %s, linker %s", b.Target.Name(), l.Target().Name()).
			Build()
	}
	handles := make(map[string]*linker.Handle, len(b.Functions))
	var absent []string
	for _, name := range b.FunctionNames() {
		fn := b.Functions[name]
		h, err := l.Lookup(lib, name, fn.Descriptor, fn.Options()...)
		if err != nil {
			if errors.IsKind(err, errors.KindSymbolNotFound) {
				absent = append(absent, lib.Name()+"#"+name)
				continue
			}
			return nil, err
		}
		handles[name] = h
	}
	if len(absent) > 0 {
		return nil, errors.NewMissingSymbolsError(absent)
	}
	return handles, nil
}
