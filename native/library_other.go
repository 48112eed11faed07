//go:build !(linux && (amd64 || arm64))

package native

import (
	"runtime"

	"github.com/wippyai/foreign/abi"
	"github.com/wippyai/foreign/errors"
	"github.com/wippyai/foreign/linker"
)

// LibC is empty where native libraries cannot be opened.
const LibC = ""

// Library is unavailable on this platform.
type Library struct{}

// Open always fails on this platform.
func Open(path string) (*Library, error) {
	return nil, errors.Unsupported(errors.PhaseLoad, "native libraries on "+runtime.GOOS+"/"+runtime.GOARCH)
}

func (l *Library) Name() string      { return "" }
func (l *Library) Target() abi.Target { return nil }
func (l *Library) Close() error       { return nil }

// Lookup implements linker.Library.
func (l *Library) Lookup(name string) (linker.Symbol, error) {
	return linker.Symbol{}, errors.SymbolNotFound("", name)
}
