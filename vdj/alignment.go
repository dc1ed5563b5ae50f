package vdj

import (
	"sort"

	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/util"
)

// Alignment describes an aligned read. Column indices refer to the shared V
// germline coordinate system: the CDR3 starts at the V CDR3 offset.
type Alignment struct {
	// IDs lists every input read represented by this alignment.
	IDs []string
	// Quality holds the phred score of each aligned column, -1 for pad and
	// gap columns. It is nil when the input had no qualities.
	Quality []int
	// Reversed is set when the read aligned as its reverse complement.
	Reversed bool

	// VGenes and JGenes are the tie-sets, sorted. They are never reduced to a
	// single gene.
	VGenes, JGenes []string

	VLength, VMatch               int
	JLength, JMatch               int
	PreCDR3Length, PreCDR3Match   int
	PostCDR3Length, PostCDR3Match int
	// PadLength is the number of leading columns not covered by the read.
	PadLength int
	// NumGaps counts gap characters carried by the read itself.
	NumGaps int

	// Sequence is the read in aligned coordinates, padded with '-'.
	Sequence string
	// SequenceReplaced is Sequence with every N and gap replaced by the
	// germline base where the germline has one.
	SequenceReplaced string
	// Germline is V up to the CDR3, a '-' placeholder for the CDR3, then the
	// J bases following the CDR3.
	Germline string

	CDR3Start, CDR3End int
	CDR3NT, CDR3AA     string

	InFrame, Stop, Functional bool
	MutationFraction          float64
}

// Count is the number of input reads represented.
func (a *Alignment) Count() int { return len(a.IDs) }

// CDR3Len is the CDR3 length in nucleotides.
func (a *Alignment) CDR3Len() int { return a.CDR3End - a.CDR3Start }

// VTie is the formatted V tie-set, e.g. "IGHV1-2*02|1-2*04".
func (a *Alignment) VTie() string { return germline.TieName(germline.VPrefix, a.VGenes, false) }

// JTie is the formatted J tie-set.
func (a *Alignment) JTie() string { return germline.TieName(germline.JPrefix, a.JGenes, false) }

func (a *Alignment) finish() {
	r := []byte(a.Sequence)
	for i, c := range r {
		if (c == 'N' || c == util.Gap) && i < len(a.Germline) && util.IsBase(a.Germline[i]) {
			r[i] = a.Germline[i]
		}
	}
	a.SequenceReplaced = string(r)
	end := a.CDR3End
	if end > len(r) {
		end = len(r)
	}
	if a.CDR3Start < end {
		a.CDR3NT = a.SequenceReplaced[a.CDR3Start:end]
	}
	a.CDR3AA = util.Translate(a.CDR3NT)
	a.InFrame = a.CDR3Len()%3 == 0
	a.Stop = util.HasStop(a.SequenceReplaced)
	a.Functional = a.InFrame && !a.Stop
	if a.VLength > 0 {
		a.MutationFraction = float64(a.VLength-a.VMatch) / float64(a.VLength)
	}
}

// Collapser merges aligned reads whose replaced sequences are equal. Reads
// that differed only in N bases before alignment end up in one record.
type Collapser struct {
	byKey map[string]*Alignment
	order []*Alignment
}

// NewCollapser creates an empty Collapser.
func NewCollapser() *Collapser {
	return &Collapser{byKey: make(map[string]*Alignment)}
}

// Add records a. If an alignment with the same replaced sequence exists, a's
// IDs are appended to it and Add returns true.
func (c *Collapser) Add(a *Alignment) bool {
	if prev, ok := c.byKey[a.SequenceReplaced]; ok {
		prev.IDs = append(prev.IDs, a.IDs...)
		return true
	}
	c.byKey[a.SequenceReplaced] = a
	c.order = append(c.order, a)
	return false
}

// All returns the merged alignments in order of first appearance.
func (c *Collapser) All() []*Alignment { return c.order }

// Len returns the number of distinct alignments.
func (c *Collapser) Len() int { return len(c.order) }

type bucketKey struct {
	v, j    string
	cdr3Len int
	seqLen  int
}

// CollapseAmbiguous folds alignments that share their tie-sets, CDR3 length
// and sequence length and are equal when N matches any base. Each alignment
// folds into the one with the most reads; its IDs are appended there. The
// survivors are returned in input order.
func CollapseAmbiguous(alns []*Alignment) []*Alignment {
	buckets := make(map[bucketKey][]int)
	for i, a := range alns {
		k := bucketKey{a.VTie(), a.JTie(), a.CDR3Len(), len(a.Sequence)}
		buckets[k] = append(buckets[k], i)
	}
	folded := make([]bool, len(alns))
	for _, idx := range buckets {
		if len(idx) < 2 {
			continue
		}
		sort.SliceStable(idx, func(x, y int) bool { return alns[idx[x]].Count() > alns[idx[y]].Count() })
		var kept []int
		for _, i := range idx {
			merged := false
			for _, k := range kept {
				if equalAmbiguous(alns[k].Sequence, alns[i].Sequence) {
					alns[k].IDs = append(alns[k].IDs, alns[i].IDs...)
					folded[i] = true
					merged = true
					break
				}
			}
			if !merged {
				kept = append(kept, i)
			}
		}
	}
	out := make([]*Alignment, 0, len(alns))
	for i, a := range alns {
		if !folded[i] {
			out = append(out, a)
		}
	}
	return out
}

func equalAmbiguous(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] && a[i] != 'N' && b[i] != 'N' {
			return false
		}
	}
	return true
}
