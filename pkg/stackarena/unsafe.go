package stackarena

import "unsafe"

// bytePtr returns the address of b's first element. Isolated in its own
// file so the single unsafe call site in this package is easy to audit.
func bytePtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
