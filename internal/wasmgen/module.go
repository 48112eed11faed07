// Package wasmgen assembles small WebAssembly modules in the binary format:
// functions with hand-written bodies, one linear memory, and i32 globals.
package wasmgen

import "github.com/tetratelabs/wazero/api"

// ModuleBuilder collects the parts of a module and encodes them.
type ModuleBuilder struct {
	funcs     []moduleFunc
	globals   []moduleGlobal
	memPages  uint32
	memExport string
	hasMemory bool
}

type moduleFunc struct {
	name        string
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
	locals      []api.ValueType
	code        Code
}

type moduleGlobal struct {
	exportName string
	mutable    bool
	initValue  int32
}

// NewModuleBuilder creates an empty module builder.
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{}
}

// SetMemory declares a linear memory of pages 64KiB pages, exported as
// exportName when it is not empty.
func (b *ModuleBuilder) SetMemory(pages uint32, exportName string) {
	b.hasMemory = true
	b.memPages = pages
	b.memExport = exportName
}

// AddGlobal adds an i32 global and returns its index. An empty exportName
// keeps it private.
func (b *ModuleBuilder) AddGlobal(exportName string, mutable bool, initValue int32) uint32 {
	b.globals = append(b.globals, moduleGlobal{exportName: exportName, mutable: mutable, initValue: initValue})
	return uint32(len(b.globals) - 1)
}

// AddFunc adds an exported function and returns its index. Locals are
// numbered after the parameters.
func (b *ModuleBuilder) AddFunc(name string, params, results, locals []api.ValueType, code Code) uint32 {
	b.funcs = append(b.funcs, moduleFunc{
		name:        name,
		paramTypes:  params,
		resultTypes: results,
		locals:      locals,
		code:        code,
	})
	return uint32(len(b.funcs) - 1)
}

// Build generates the module bytes.
func (b *ModuleBuilder) Build() []byte {
	var wasm []byte

	// Magic and version
	wasm = append(wasm, 0x00, 0x61, 0x73, 0x6d)
	wasm = append(wasm, 0x01, 0x00, 0x00, 0x00)

	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x01, b.buildTypeSection())
		wasm = appendSection(wasm, 0x03, b.buildFuncSection())
	}
	if b.hasMemory {
		wasm = appendSection(wasm, 0x05, b.buildMemorySection())
	}
	if len(b.globals) > 0 {
		wasm = appendSection(wasm, 0x06, b.buildGlobalSection())
	}
	wasm = appendSection(wasm, 0x07, b.buildExportSection())
	if len(b.funcs) > 0 {
		wasm = appendSection(wasm, 0x0a, b.buildCodeSection())
	}
	return wasm
}

// one type per function; duplicates are allowed by the format
func (b *ModuleBuilder) buildTypeSection() []byte {
	section := appendVec(nil, len(b.funcs))
	for _, f := range b.funcs {
		section = append(section, 0x60)
		section = appendVec(section, len(f.paramTypes))
		for _, t := range f.paramTypes {
			section = append(section, ValTypeToWasm(t))
		}
		section = appendVec(section, len(f.resultTypes))
		for _, t := range f.resultTypes {
			section = append(section, ValTypeToWasm(t))
		}
	}
	return section
}

func (b *ModuleBuilder) buildFuncSection() []byte {
	section := appendVec(nil, len(b.funcs))
	for i := range b.funcs {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *ModuleBuilder) buildMemorySection() []byte {
	section := appendVec(nil, 1)
	section = append(section, 0x00)
	return append(section, EncodeULEB128(b.memPages)...)
}

func (b *ModuleBuilder) buildGlobalSection() []byte {
	section := appendVec(nil, len(b.globals))
	for _, g := range b.globals {
		section = append(section, ValTypeToWasm(api.ValueTypeI32))
		if g.mutable {
			section = append(section, 0x01)
		} else {
			section = append(section, 0x00)
		}
		section = append(section, 0x41)
		section = append(section, EncodeSLEB128(g.initValue)...)
		section = append(section, 0x0b)
	}
	return section
}

func (b *ModuleBuilder) buildExportSection() []byte {
	n := len(b.funcs)
	if b.hasMemory && b.memExport != "" {
		n++
	}
	for _, g := range b.globals {
		if g.exportName != "" {
			n++
		}
	}

	section := appendVec(nil, n)
	if b.hasMemory && b.memExport != "" {
		section = appendName(section, b.memExport)
		section = append(section, 0x02, 0x00)
	}
	for i, g := range b.globals {
		if g.exportName == "" {
			continue
		}
		section = appendName(section, g.exportName)
		section = append(section, 0x03)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	for i, f := range b.funcs {
		section = appendName(section, f.name)
		section = append(section, 0x00)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *ModuleBuilder) buildCodeSection() []byte {
	section := appendVec(nil, len(b.funcs))
	for _, f := range b.funcs {
		body := buildFuncBody(f)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

func buildFuncBody(f moduleFunc) []byte {
	// locals are declared one per entry
	body := appendVec(nil, len(f.locals))
	for _, t := range f.locals {
		body = append(body, 0x01, ValTypeToWasm(t))
	}
	body = append(body, f.code...)
	return append(body, 0x0b)
}
