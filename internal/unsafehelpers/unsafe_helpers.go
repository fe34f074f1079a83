// Package unsafehelpers centralises the low-level bit-twiddling helpers used
// by the size-estimate quantization in pkg.  Every helper is documented with
// clear pre-/post-conditions.
//
// All functions are `go:linkname`-free, cgo-free and pure Go 1.24.
//
// © 2025 go-persistent authors. MIT License.

package unsafehelpers

/* -------------------------------------------------------------------------
   Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align (which must be a power
// of two).  Fast bit-twiddling alternative to math.Ceil for sizes.
func AlignUp(x, align uintptr) uintptr {
    return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
    return x != 0 && (x&(x-1)) == 0
}
