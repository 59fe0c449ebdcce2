package fluid

// BufferPair manages the two backing fields of a double-buffered quantity.
// One field is always the read side (the latest completed results) and the
// other the write side (the target of the next dispatch). Swap transposes
// the roles; the raw fields are never addressed by index.
//
// State machine:
//
//	(A=read, B=write) -> Swap() -> (B=read, A=write) -> Swap() -> (A=read, B=write)
//
// The read and write sides are distinct at all times. BufferPair is NOT
// safe for concurrent use.
type BufferPair struct {
	fields [2]Field
	// read is the index of the current read side, 0 or 1.
	read uint8
}

// NewBufferPair creates a pair with a as the initial read side and b as the
// initial write side.
func NewBufferPair(a, b Field) *BufferPair {
	return &BufferPair{fields: [2]Field{a, b}}
}

// Current returns the read side: the field holding the latest results.
func (p *BufferPair) Current() Field {
	return p.fields[p.read]
}

// Next returns the write side: the field the next dispatch writes into.
func (p *BufferPair) Next() Field {
	return p.fields[p.read^1]
}

// Swap transposes the read and write roles and returns the new (read,
// write) fields, in that order, for rebinding. A second Swap restores the
// previous roles.
func (p *BufferPair) Swap() (read, write Field) {
	p.read ^= 1
	return p.Current(), p.Next()
}
