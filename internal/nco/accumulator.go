package nco

// Accumulator models the oscillator phase accumulator bit-exactly: every
// sample tick it adds A to the whole part and B to a base-FracBase
// fractional part, carrying into the whole part on overflow.
type Accumulator struct {
	inc    Increment
	whole  int64 // modulo UnitsPerCycle
	frac   int64
	cycles int64
}

// NewAccumulator starts an accumulator at zero phase.
func NewAccumulator(inc Increment) *Accumulator {
	return &Accumulator{inc: inc}
}

// Advance integrates n sample ticks.
func (a *Accumulator) Advance(n int64) {
	const chunk = 1 << 30
	for n > 0 {
		step := n
		if step > chunk {
			step = chunk
		}
		n -= step
		frac := a.frac + step*int64(a.inc.B)
		whole := a.whole + step*int64(a.inc.A) + frac/FracBase
		a.frac = frac % FracBase
		a.cycles += whole / UnitsPerCycle
		a.whole = whole % UnitsPerCycle
	}
}

// Reset clears the accumulated phase, as a phase-reset strobe does.
func (a *Accumulator) Reset() {
	a.whole, a.frac, a.cycles = 0, 0, 0
}

// Phase returns the current phase as a fraction of a cycle in [0, 1).
func (a *Accumulator) Phase() float64 {
	return (float64(a.whole) + float64(a.frac)/FracBase) / UnitsPerCycle
}

// Cycles returns the number of whole cycles completed since the last reset.
func (a *Accumulator) Cycles() int64 { return a.cycles }

// Total returns the accumulated phase in cycles.
func (a *Accumulator) Total() float64 {
	return float64(a.cycles) + a.Phase()
}
