package linker

import "go.uber.org/zap"

// Options configures linker behavior.
type Options struct {
	Logger *zap.Logger
	// Critical makes every handle skip the thread transition unless the
	// downcall overrides it.
	Critical bool
}

// DefaultOptions returns default linker configuration.
func DefaultOptions() Options {
	return Options{}
}

type downcallConfig struct {
	firstVariadic int
	variadic      bool
	critical      bool
	allowHeap     bool
}

// DowncallOption modifies a single downcall.
type DowncallOption func(*downcallConfig)

// FirstVariadicArg marks arguments from index on as variadic.
func FirstVariadicArg(index int) DowncallOption {
	return func(c *downcallConfig) {
		c.firstVariadic = index
		c.variadic = true
	}
}

// Critical marks the call as short and non-blocking: it runs without
// wiring the goroutine to its OS thread. With allowHeap, address arguments
// may also be heap segments; they stay pinned until the call returns.
func Critical(allowHeap bool) DowncallOption {
	return func(c *downcallConfig) {
		c.critical = true
		c.allowHeap = allowHeap
	}
}
