//go:build !taskrt_debug

package rterrors

// assertImpl is a no-op in release builds: invariant violations guarded
// by Assert are programmer bugs, not recoverable runtime conditions.
func assertImpl(cond bool, msg string) {}
