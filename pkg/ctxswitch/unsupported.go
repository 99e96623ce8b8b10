//go:build !amd64 && !arm64

package ctxswitch

import "github.com/odvcencio/taskrt/pkg/stackarena"

const supported = false

// Swap panics on unsupported architectures: the runtime refuses to
// initialize outside x86-64/aarch64, and pkg/executor checks Supported
// before ever constructing a Pool.
func Swap(from, to *Context) {
	panic("taskrt/ctxswitch: stack switching unsupported on this GOARCH")
}

func bootstrap(ctx *Context, stack *stackarena.Stack) {
	panic("taskrt/ctxswitch: stack switching unsupported on this GOARCH")
}
