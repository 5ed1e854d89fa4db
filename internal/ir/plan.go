package ir

// Plan is the ordered execution plan: batches of unit identifiers where
// every unit's dependencies sit in strictly earlier batches. Units within
// a batch are sorted ascending by identifier. The plan is computed once
// per invocation and immutable during execution.
type Plan struct {
	Batches [][]string `json:"batches" yaml:"batches"`
}

// Size returns the total number of units across all batches.
func (p *Plan) Size() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b)
	}
	return n
}

// UnitIDs returns all unit identifiers in batch order.
func (p *Plan) UnitIDs() []string {
	out := make([]string, 0, p.Size())
	for _, b := range p.Batches {
		out = append(out, b...)
	}
	return out
}
