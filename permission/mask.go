package permission

import "math/bits"

// MaxBits is the width of a Mask.
const MaxBits = 64

// Mask is a set of permission bits.
type Mask uint64

// Has reports whether bit is set. Out-of-range bits are never set.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	return m&(1<<uint(bit)) != 0
}

func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m |= 1 << uint(bit)
}

func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	*m &^= 1 << uint(bit)
}

// Len returns the number of set bits.
func (m Mask) Len() int { return bits.OnesCount64(uint64(m)) }

func (m Mask) Raw() uint64 { return uint64(m) }
