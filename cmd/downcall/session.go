package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/config"
	"github.com/wippyai/foreign/engine"
	"github.com/wippyai/foreign/layout"
	"github.com/wippyai/foreign/linker"
	"github.com/wippyai/foreign/native"
	"github.com/wippyai/foreign/testlib"
)

// session is the manifest and target a command works against.
type session struct {
	binding *config.Binding
	target  abi.Target
	resolve config.Resolver
	dir     string
}

func openSession(cmd *cobra.Command) (*session, error) {
	path, err := cmd.Flags().GetString("manifest")
	if err != nil {
		return nil, err
	}
	override, err := cmd.Flags().GetString("target")
	if err != nil {
		return nil, err
	}

	s := &session{}
	if path == "" {
		if s.target, err = abi.Lookup(override); err != nil {
			return nil, err
		}
		s.resolve = config.TypeResolver(s.target, nil)
		return s, nil
	}

	m, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if override != "" {
		m.Target = override
	}
	if s.binding, err = m.Resolve(); err != nil {
		return nil, err
	}
	s.target = s.binding.Target
	s.resolve = config.TypeResolver(s.target, s.binding.Layouts)
	s.dir = filepath.Dir(path)
	return s, nil
}

// requireBinding fails for commands that need declared functions.
func (s *session) requireBinding() error {
	if s.binding == nil {
		return fmt.Errorf("this command needs a manifest (--manifest)")
	}
	return nil
}

// descriptor resolves a declared function name or an inline signature.
func (s *session) descriptor(ref string) (*abi.FunctionDescriptor, []linker.DowncallOption, error) {
	if s.binding != nil {
		if fn, ok := s.binding.Functions[ref]; ok {
			return fn.Descriptor, fn.Options(), nil
		}
	}
	fd, err := config.ParseSignature(ref, s.resolve)
	return fd, nil, err
}

func (s *session) layout(expr string) (layout.Layout, error) {
	return s.resolve(expr)
}

// library opens the manifest's library for the session target. Wasm32
// libraries load the manifest's module, or the built-in test library's
// module when none is named. On register targets the built-in test
// library runs on the emulated machine; any other name is opened as a
// shared library of the host.
func (s *session) library(ctx context.Context) (linker.Library, func(), error) {
	if err := s.requireBinding(); err != nil {
		return nil, nil, err
	}
	name := s.binding.Library

	if s.target.Name() == abi.Wasm32.Name() {
		wasm := testlib.Module()
		if mod := s.binding.Module; mod != "" {
			if !filepath.IsAbs(mod) {
				mod = filepath.Join(s.dir, mod)
			}
			data, err := os.ReadFile(mod)
			if err != nil {
				return nil, nil, fmt.Errorf("read module: %w", err)
			}
			wasm = data
		} else if name != testlib.LibraryName {
			return nil, nil, fmt.Errorf("library %q names no module", name)
		}

		e, err := engine.New(ctx)
		if err != nil {
			return nil, nil, err
		}
		m, err := e.Load(ctx, name, wasm)
		if err != nil {
			_ = e.Close(ctx)
			return nil, nil, err
		}
		return m, func() { _ = e.Close(ctx) }, nil
	}

	if name != testlib.LibraryName {
		host, err := abi.Host()
		if err != nil || host.Name() != s.target.Name() {
			return nil, nil, fmt.Errorf("native library %q needs the host target, session runs %s", name, s.target.Name())
		}
		lib, err := native.Open(name)
		if err != nil {
			return nil, nil, err
		}
		return lib, func() { _ = lib.Close() }, nil
	}
	lib, err := testlib.Natives(s.target)
	if err != nil {
		return nil, nil, err
	}
	return lib, func() {}, nil
}
