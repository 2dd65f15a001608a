package core

// Assert terminates when an engine-facing caller violates a usage contract
// (draw with no active frame, uniform bind after the draw that needed it).
// These are integration bugs, not runtime conditions; they are not returned
// as errors.
func Assert(condition bool, msg string) {
	if !condition {
		LogFatal("assertion failed: %s", msg)
	}
}

func Assertf(condition bool, msg string, args ...interface{}) {
	if !condition {
		LogFatal("assertion failed: "+msg, args...)
	}
}
