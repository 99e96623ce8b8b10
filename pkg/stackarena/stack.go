// Package stackarena allocates, caches, and guards the memory backing
// coroutine stacks used by pkg/ctxswitch and pkg/task. It generalizes a
// sync.Pool-style capped free-list from reusable byte slices to
// guarded, page-aligned stack regions that cannot simply be garbage
// collected — they are returned to the OS explicitly via munmap.
package stackarena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stack is a contiguous, page-aligned memory region, referenced by its
// highest usable address (stacks here grow downward, as on amd64 and
// arm64); HighAddr is what pkg/ctxswitch.MakeContext wires into the
// initial stack pointer.
type Stack struct {
	region   []byte // the full mmap'd region, including any guard page
	usable   []byte // the usable portion, after the guard page
	guarded  bool
	minSize  int
}

// HighAddr returns the address one past the last usable byte — the value
// a downward-growing stack pointer starts at.
func (s *Stack) HighAddr() uintptr {
	if len(s.usable) == 0 {
		return 0
	}
	return uintptr(unsafeBase(s.usable)) + uintptr(len(s.usable))
}

// LowAddr returns the first usable address, for bounds-checking.
func (s *Stack) LowAddr() uintptr {
	return uintptr(unsafeBase(s.usable))
}

// Size returns the usable region size in bytes.
func (s *Stack) Size() int { return len(s.usable) }

// WriteAt copies data into the stack's usable region starting at the
// given absolute address, which must fall within [LowAddr, HighAddr).
// Used only by pkg/ctxswitch to plant the synthetic bootstrap frame a
// freshly made Context resumes into on first activation.
func (s *Stack) WriteAt(addr uintptr, data []byte) {
	off := addr - s.LowAddr()
	copy(s.usable[off:off+uintptr(len(data))], data)
}

var pageSize = unix.Getpagesize()

// allocate maps a fresh stack of at least minSize bytes, rounded up to a
// whole number of pages. If guard is true, one additional inaccessible
// page is mapped below the usable region (stacks here grow downward).
func allocate(minSize int, guard bool) (*Stack, error) {
	usableBytes := roundUpPage(minSize)
	total := usableBytes
	if guard {
		total += pageSize
	}

	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("taskrt/stackarena: mmap %d bytes: %w", total, err)
	}

	s := &Stack{region: region, minSize: minSize, guarded: guard}
	if guard {
		// Guard page sits at the lowest address; the stack grows down
		// into it and traps on overflow. This is a detection aid only —
		// overflow past it remains undefined behavior.
		if err := unix.Mprotect(region[:pageSize], unix.PROT_NONE); err != nil {
			_ = unix.Munmap(region)
			return nil, fmt.Errorf("taskrt/stackarena: mprotect guard page: %w", err)
		}
		s.usable = region[pageSize:]
	} else {
		s.usable = region
	}
	return s, nil
}

func (s *Stack) free() error {
	if s.region == nil {
		return nil
	}
	err := unix.Munmap(s.region)
	s.region, s.usable = nil, nil
	return err
}

func roundUpPage(n int) int {
	if n <= 0 {
		n = pageSize
	}
	return (n + pageSize - 1) / pageSize * pageSize
}

func unsafeBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(bytePtr(b))
}
