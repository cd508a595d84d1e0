package generator

import "math/bits"

const (
	mtN         = 624
	mtM         = 397
	mtMatrixA   = 0x9908b0df
	mtUpperMask = 0x80000000
	mtLowerMask = 0x7fffffff
)

// Source is a 32-bit Mersenne Twister (MT19937) seeded the same way CPython's
// random.seed(int) seeds it. Draws made through Below, IntRange and Choice
// consume the stream exactly like random._randbelow, random.randint and
// random.choice, so a fixed seed and draw order yields the same values in
// both runtimes.
//
// A Source is not safe for concurrent use.
type Source struct {
	mt  [mtN]uint32
	idx int
}

// NewSource seeds a Source from the absolute value of seed.
func NewSource(seed int64) *Source {
	s := &Source{}
	s.seed(seed)
	return s
}

func (s *Source) seed(seed int64) {
	abs := uint64(seed)
	if seed < 0 {
		abs = uint64(-seed)
	}
	key := []uint32{uint32(abs)}
	if hi := uint32(abs >> 32); hi != 0 {
		key = append(key, hi)
	}
	s.initByArray(key)
}

func (s *Source) initGenrand(v uint32) {
	s.mt[0] = v
	for i := 1; i < mtN; i++ {
		prev := s.mt[i-1]
		s.mt[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	s.idx = mtN
}

func (s *Source) initByArray(key []uint32) {
	s.initGenrand(19650218)
	i, j := 1, 0
	k := mtN
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		prev := s.mt[i-1]
		s.mt[i] = (s.mt[i] ^ ((prev ^ (prev >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= mtN {
			s.mt[0] = s.mt[mtN-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = mtN - 1; k > 0; k-- {
		prev := s.mt[i-1]
		s.mt[i] = (s.mt[i] ^ ((prev ^ (prev >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= mtN {
			s.mt[0] = s.mt[mtN-1]
			i = 1
		}
	}
	s.mt[0] = 0x80000000
}

func (s *Source) twist() {
	for k := 0; k < mtN; k++ {
		y := (s.mt[k] & mtUpperMask) | (s.mt[(k+1)%mtN] & mtLowerMask)
		v := s.mt[(k+mtM)%mtN] ^ (y >> 1)
		if y&1 != 0 {
			v ^= mtMatrixA
		}
		s.mt[k] = v
	}
	s.idx = 0
}

// Uint32 returns the next tempered 32-bit output.
func (s *Source) Uint32() uint32 {
	if s.idx >= mtN {
		s.twist()
	}
	y := s.mt[s.idx]
	s.idx++
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Below returns a uniform value in [0, n) by rejection sampling on the top
// bit_length(n) bits of each output. n must be in (0, 2^32).
func (s *Source) Below(n int) int {
	if n <= 0 || uint64(n) >= 1<<32 {
		panic("generator: Below argument out of range")
	}
	k := bits.Len32(uint32(n))
	r := int(s.Uint32() >> (32 - k))
	for r >= n {
		r = int(s.Uint32() >> (32 - k))
	}
	return r
}

// IntRange returns a uniform value in [lo, hi], both inclusive.
func (s *Source) IntRange(lo, hi int) int {
	return lo + s.Below(hi-lo+1)
}

// Choice returns a uniformly drawn element of items, which must not be empty.
func Choice[T any](s *Source, items []T) T {
	return items[s.Below(len(items))]
}
