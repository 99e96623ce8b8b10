//go:build !linux

package task

// gettid has no portable equivalent outside Linux; it returns a constant
// sentinel, so every thread shares one registry slot on these platforms
// and the thread-keyed registries cannot tell workers apart. The rest of
// the runtime (mmap/mprotect stack guards, amd64/arm64 assembly context switch) is
// already Linux/unix-first, so this is not a new restriction.
func gettid() int { return -1 }
