package crypto

import "runtime"

// Wipe zeroes b. Best effort; keeps b live until the loop completes.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
