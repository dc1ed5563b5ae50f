package mutations

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/biogo/store/llrb"
)

// Type classifies a substitution by its effect on the encoded amino acid.
type Type int

const (
	// Unknown is used when either codon is incomplete or ambiguous.
	Unknown Type = iota
	Synonymous
	Nonsynonymous
)

func (t Type) String() string {
	switch t {
	case Synonymous:
		return "synonymous"
	case Nonsynonymous:
		return "nonsynonymous"
	}
	return "unknown"
}

// Counts holds substitution counts split by Type.
type Counts struct {
	Synonymous    int `json:"synonymous"`
	Nonsynonymous int `json:"nonsynonymous"`
	Unknown       int `json:"unknown"`
}

// Total is the number of substitutions.
func (c Counts) Total() int { return c.Synonymous + c.Nonsynonymous + c.Unknown }

func (c *Counts) add(t Type, n int) {
	switch t {
	case Synonymous:
		c.Synonymous += n
	case Nonsynonymous:
		c.Nonsynonymous += n
	default:
		c.Unknown += n
	}
}

// Add adds o to c.
func (c *Counts) Add(o Counts) {
	c.Synonymous += o.Synonymous
	c.Nonsynonymous += o.Nonsynonymous
	c.Unknown += o.Unknown
}

type positionCounts struct {
	pos    int
	counts *Counts
}

func (p *positionCounts) Compare(c llrb.Comparable) int {
	return p.pos - c.(*positionCounts).pos
}

// PositionCounts is the tally of one column.
type PositionCounts struct {
	Pos    int
	Counts Counts
}

// Tally aggregates substitutions by region label and by column.
type Tally struct {
	regions   map[string]*Counts
	positions llrb.Tree
}

// NewTally returns an empty Tally.
func NewTally() *Tally {
	return &Tally{regions: make(map[string]*Counts)}
}

func (t *Tally) add(region string, pos int, typ Type, n int) {
	c := t.regions[region]
	if c == nil {
		c = &Counts{}
		t.regions[region] = c
	}
	c.add(typ, n)
	t.position(pos).add(typ, n)
}

func (t *Tally) position(pos int) *Counts {
	if p := t.positions.Get(&positionCounts{pos: pos}); p != nil {
		return p.(*positionCounts).counts
	}
	p := &positionCounts{pos: pos, counts: &Counts{}}
	t.positions.Insert(p)
	return p.counts
}

// Region returns the counts of one region label.
func (t *Tally) Region(label string) Counts {
	if c := t.regions[label]; c != nil {
		return *c
	}
	return Counts{}
}

// Regions returns a copy of the per-region counts.
func (t *Tally) Regions() map[string]Counts {
	m := make(map[string]Counts, len(t.regions))
	for k, c := range t.regions {
		m[k] = *c
	}
	return m
}

// Position returns the counts of column pos.
func (t *Tally) Position(pos int) Counts {
	if p := t.positions.Get(&positionCounts{pos: pos}); p != nil {
		return *p.(*positionCounts).counts
	}
	return Counts{}
}

// Positions returns the per-column counts in increasing column order.
func (t *Tally) Positions() []PositionCounts {
	out := make([]PositionCounts, 0, t.positions.Len())
	t.positions.Do(func(c llrb.Comparable) bool {
		p := c.(*positionCounts)
		out = append(out, PositionCounts{Pos: p.pos, Counts: *p.counts})
		return false
	})
	return out
}

// Total sums every region.
func (t *Tally) Total() Counts {
	var total Counts
	for _, c := range t.regions {
		total.Add(*c)
	}
	return total
}

// Merge adds every bucket of o to t.
func (t *Tally) Merge(o *Tally) {
	for k, c := range o.regions {
		r := t.regions[k]
		if r == nil {
			r = &Counts{}
			t.regions[k] = r
		}
		r.Add(*c)
	}
	o.positions.Do(func(c llrb.Comparable) bool {
		p := c.(*positionCounts)
		t.position(p.pos).Add(*p.counts)
		return false
	})
}

// Clone returns an independent copy of t.
func (t *Tally) Clone() *Tally {
	c := NewTally()
	c.Merge(t)
	return c
}

type tallyJSON struct {
	Regions   map[string]Counts `json:"regions"`
	Positions map[string]Counts `json:"positions"`
}

// MarshalJSON encodes t as {"regions": {...}, "positions": {"<col>": {...}}}.
func (t *Tally) MarshalJSON() ([]byte, error) {
	v := tallyJSON{Regions: t.Regions(), Positions: make(map[string]Counts)}
	for _, p := range t.Positions() {
		v.Positions[strconv.Itoa(p.Pos)] = p.Counts
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes the MarshalJSON form.
func (t *Tally) UnmarshalJSON(data []byte) error {
	var v tallyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Tally{regions: make(map[string]*Counts)}
	for k, c := range v.Regions {
		c := c
		t.regions[k] = &c
	}
	keys := make([]string, 0, len(v.Positions))
	for k := range v.Positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pos, err := strconv.Atoi(k)
		if err != nil {
			return err
		}
		t.position(pos).Add(v.Positions[k])
	}
	return nil
}

// Percent returns 100*n/d rounded to two decimals, or 0 when d is 0.
func Percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return FractionPercent(float64(n) / float64(d))
}

// FractionPercent returns 100*f rounded to two decimals.
func FractionPercent(f float64) float64 {
	return math.Round(10000*f) / 100
}
