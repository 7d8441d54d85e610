package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// IsAligned reports whether v is a multiple of alignment. An alignment of 0 accepts anything.
func IsAligned[T constraints.Unsigned](v, alignment T) bool {
	if alignment == 0 {
		return true
	}
	return v%alignment == 0
}

// AlignDown clears the low bits of v. alignment must be a power of two.
func AlignDown[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return v &^ (alignment - 1)
}

// InclusiveEnd is the last byte of a span of size bytes starting at offset. Empty spans end
// at their offset.
func InclusiveEnd[T constraints.Unsigned](offset, size T) T {
	if size == 0 {
		return offset
	}
	return offset + size - 1
}

// SpansOverlap tests two half-open spans [aStart, aStart+aSize) and [bStart, bStart+bSize).
func SpansOverlap[T constraints.Unsigned](aStart, aSize, bStart, bSize T) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}
	return aStart < bStart+bSize && bStart < aStart+aSize
}
