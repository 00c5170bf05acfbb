package engine

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the calling goroutine's id from its stack
// trace header. The transaction registry is specified as a thread-local
// structure; Go has no native thread-local storage, so the goroutine id
// plays the role of "thread id" throughout this package.
func currentGoroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		// Should never happen: the runtime's own stack header format is
		// stable. Fall back to 0 rather than panicking.
		return 0
	}
	return id
}
