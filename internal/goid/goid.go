// Package goid reports the id of the calling goroutine.
//
// The runtime does not export goroutine ids; the id is parsed from the
// header line of runtime.Stack ("goroutine 18 [running]:"). The value is only
// used to enforce thread confinement, never for scheduling decisions.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Get returns the id of the calling goroutine, or 0 if it cannot be parsed.
func Get() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, prefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
