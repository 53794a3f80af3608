package replay

// Mulberry32 is a small public PRNG. Any peer can reproduce an outcome from
// the seed alone.
type Mulberry32 struct {
	state uint32
}

func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

func (m *Mulberry32) Uint32() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Intn returns a value in [0, n). n must be positive.
func (m *Mulberry32) Intn(n int) int {
	return int((uint64(m.Uint32()) * uint64(n)) >> 32)
}

// Mix derives the stream seed for one actor in one round.
func Mix(seed uint32, round, actor int) uint32 {
	return seed ^ (uint32(round) * 0x9E3779B1) ^ (uint32(actor) * 0x85EBCA77)
}

// Stream returns the generator for (seed, round, actor) after skipping the
// draws already taken, so the next value is the actor's next outcome.
func Stream(seed uint32, round, actor, drawn int) *Mulberry32 {
	m := NewMulberry32(Mix(seed, round, actor))
	for i := 0; i < drawn; i++ {
		m.Uint32()
	}
	return m
}

// Die rolls one six-sided die from the actor's stream.
func Die(seed uint32, round, actor, drawn int) int {
	return Stream(seed, round, actor, drawn).Intn(6) + 1
}
