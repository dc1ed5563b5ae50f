package mutations

import (
	"github.com/grailbio/immune/util"
)

// Mutation is one substitution against the germline.
type Mutation struct {
	Pos      int
	From, To byte
	Region   string
	Type     Type
}

// Caller calls substitutions of sequences aligned to one germline and
// accumulates them into a Tally.
type Caller struct {
	germline string
	cdr3Len  int
	regions  []int
	tally    *Tally
}

// NewCaller creates a Caller for germline, whose CDR3 spans cdr3Len columns
// after the regions given by base widened by insertions. A nil base means
// DefaultRegions.
func NewCaller(germline string, cdr3Len int, insertions []Insertion, base []int) *Caller {
	return &Caller{
		germline: germline,
		cdr3Len:  cdr3Len,
		regions:  Regions(insertions, base),
		tally:    NewTally(),
	}
}

// AddSequence calls the substitutions of seq, adds them to the tally and
// returns them in column order. Columns where either side is not a base are
// skipped.
func (c *Caller) AddSequence(seq string) []Mutation {
	return c.AddSequenceWeighted(seq, 1)
}

// AddSequenceWeighted is AddSequence with every substitution counted n
// times in the tally.
func (c *Caller) AddSequenceWeighted(seq string, n int) []Mutation {
	end := len(seq)
	if end > len(c.germline) {
		end = len(c.germline)
	}
	var muts []Mutation
	for i := 0; i < end; i++ {
		g, s := c.germline[i], seq[i]
		if g == s || !util.IsBase(g) || !util.IsBase(s) {
			continue
		}
		m := Mutation{
			Pos:    i,
			From:   g,
			To:     s,
			Region: RegionAt(c.regions, c.cdr3Len, i),
			Type:   c.classify(seq, i),
		}
		c.tally.add(m.Region, m.Pos, m.Type, n)
		muts = append(muts, m)
	}
	return muts
}

func (c *Caller) classify(seq string, pos int) Type {
	start := pos - pos%3
	if start+3 > len(seq) || start+3 > len(c.germline) {
		return Unknown
	}
	from := util.TranslateCodon(c.germline[start : start+3])
	to := util.TranslateCodon(seq[start : start+3])
	switch {
	case from == 'X' || to == 'X':
		return Unknown
	case from == to:
		return Synonymous
	}
	return Nonsynonymous
}

// Aggregate returns a copy of the accumulated tally.
func (c *Caller) Aggregate() *Tally {
	return c.tally.Clone()
}
