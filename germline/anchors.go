package germline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/immune/util"
)

// Anchor is one anchor substring of a gene at a trim level.
type Anchor struct {
	Seq  string
	Gene string
	Trim int
}

// Level is the set of anchors generated at one trim length.
type Level struct {
	Trim int
	// Anchors lists the distinct anchor substrings, sorted.
	Anchors []string
	// Genes maps an anchor substring to the sorted genes producing it.
	Genes map[string][]string
}

// AnchorIndex holds anchor substrings for a germline set, ordered from the
// untrimmed (most discriminating) level down to the shortest allowed one.
type AnchorIndex struct {
	Levels []Level
}

// windowFunc returns gene's anchor at the given trim, or false when the gene
// has no anchor at that trim.
type windowFunc func(gene string, trim int) (string, bool)

// buildIndex collects the anchors of every trim in 0, 3, ..., maxTrim. Levels
// without anchors are omitted.
func buildIndex(names []string, maxTrim int, window windowFunc) *AnchorIndex {
	x := &AnchorIndex{}
	for trim := 0; trim <= maxTrim; trim += 3 {
		lvl := Level{Trim: trim, Genes: make(map[string][]string)}
		for _, g := range names {
			a, ok := window(g, trim)
			if !ok {
				continue
			}
			if _, ok := lvl.Genes[a]; !ok {
				lvl.Anchors = append(lvl.Anchors, a)
			}
			lvl.Genes[a] = append(lvl.Genes[a], g)
		}
		if len(lvl.Anchors) == 0 {
			continue
		}
		sort.Strings(lvl.Anchors)
		x.Levels = append(x.Levels, lvl)
	}
	return x
}

// Hit is an anchor found in a read.
type Hit struct {
	// Pos is the read index of the first anchor base.
	Pos    int
	Anchor string
	Genes  []string
	Trim   int
}

// Find searches seq for anchors, level by level from the untrimmed level.
// Within the first level that has any hit, the right-most hit wins; equal
// positions are broken by anchor text.
func (x *AnchorIndex) Find(seq string) (Hit, bool) {
	for _, lvl := range x.Levels {
		best := Hit{Pos: -1}
		for _, a := range lvl.Anchors {
			if i := strings.LastIndex(seq, a); i > best.Pos {
				best = Hit{Pos: i, Anchor: a, Genes: lvl.Genes[a], Trim: lvl.Trim}
			}
		}
		if best.Pos >= 0 {
			return best, true
		}
	}
	return Hit{}, false
}

// JOpts configures the J anchor index.
type JOpts struct {
	// UpstreamOfCDR3 is the number of J bases following the CDR3.
	UpstreamOfCDR3 int
	// AnchorLen is the length of the J anchor, taken from the 3' end.
	AnchorLen int
	// MinAnchorLen is the shortest anchor kept after trimming.
	MinAnchorLen int
}

// DefaultJOpts holds the default J anchor settings.
var DefaultJOpts = JOpts{
	UpstreamOfCDR3: 31,
	AnchorLen:      18,
	MinAnchorLen:   12,
}

// JGermlines is a J germline set with its anchor index.
type JGermlines struct {
	*Set
	opts    JOpts
	windows map[string]string // untrimmed anchor per gene
	index   *AnchorIndex
}

// NewJGermlines builds the anchor index of a J germline set. The anchor of a
// gene g at trim t is g[len(g)-A : len(g)-t], A = min(AnchorLen, len(g)).
func NewJGermlines(set *Set, opts JOpts) (*JGermlines, error) {
	if opts.AnchorLen <= 0 || opts.MinAnchorLen <= 0 || opts.MinAnchorLen > opts.AnchorLen {
		return nil, fmt.Errorf("germline: invalid J anchor lengths %d/%d", opts.AnchorLen, opts.MinAnchorLen)
	}
	j := &JGermlines{Set: set, opts: opts, windows: make(map[string]string, set.Len())}
	maxWindow := 0
	for _, g := range set.names {
		seq := set.seqs[g]
		if len(seq) < opts.UpstreamOfCDR3 {
			return nil, &ReferenceFormatError{Gene: g, Reason: fmt.Sprintf("shorter than %d bases following the CDR3", opts.UpstreamOfCDR3)}
		}
		a := opts.AnchorLen
		if a > len(seq) {
			a = len(seq)
		}
		j.windows[g] = seq[len(seq)-a:]
		if a > maxWindow {
			maxWindow = a
		}
	}
	j.index = buildIndex(set.names, maxWindow-opts.MinAnchorLen, func(g string, trim int) (string, bool) {
		w := j.windows[g]
		if len(w)-trim < opts.MinAnchorLen {
			return "", false
		}
		return w[:len(w)-trim], true
	})
	return j, nil
}

// Opts returns the settings the index was built with.
func (j *JGermlines) Opts() JOpts { return j.opts }

// Index returns the anchor index.
func (j *JGermlines) Index() *AnchorIndex { return j.index }

// AnchorsAt returns the anchors of every gene whose window trimmed by trimLen
// is still at least MinAnchorLen long, sorted by gene.
func (j *JGermlines) AnchorsAt(trimLen int) []Anchor {
	var out []Anchor
	for _, g := range j.names {
		w := j.windows[g]
		if len(w)-trimLen < j.opts.MinAnchorLen || trimLen < 0 {
			continue
		}
		out = append(out, Anchor{Seq: w[:len(w)-trimLen], Gene: g, Trim: trimLen})
	}
	return out
}

// EachAnchor calls fn for every (anchor, gene) pair, trim 0 first, then 3, 6
// and so on. It stops early when fn returns false.
func (j *JGermlines) EachAnchor(fn func(Anchor) bool) {
	for _, lvl := range j.index.Levels {
		for _, a := range lvl.Anchors {
			for _, g := range lvl.Genes[a] {
				if !fn(Anchor{Seq: a, Gene: g, Trim: lvl.Trim}) {
					return
				}
			}
		}
	}
}

// ResolveTie returns the genes indistinguishable from gene over the first
// matchLen bases of their anchor windows, sorted. The result always contains
// gene itself; it is nil when gene is unknown.
func (j *JGermlines) ResolveTie(gene string, matchLen int) []string {
	w, ok := j.windows[gene]
	if !ok {
		return nil
	}
	want := prefix(w, matchLen)
	var ties []string
	for _, g := range j.names {
		if prefix(j.windows[g], matchLen) == want {
			ties = append(ties, g)
		}
	}
	return ties
}

func prefix(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if n > len(s) {
		return s
	}
	return s[:n]
}

// VOpts configures the V anchor index.
type VOpts struct {
	// CDR3Offset is the column, shared by every V germline, where the CDR3
	// starts.
	CDR3Offset int
	// AnchorLen is the length of the V anchor, which ends at CDR3Offset.
	AnchorLen int
	// MinAnchorLen is the shortest anchor kept after trimming.
	MinAnchorLen int
}

// DefaultVOpts holds the default V anchor settings for IMGT-gapped germlines.
var DefaultVOpts = VOpts{
	CDR3Offset:   309,
	AnchorLen:    18,
	MinAnchorLen: 12,
}

// VGermlines is a gapped V germline set with its anchor index.
type VGermlines struct {
	*Set
	opts  VOpts
	index *AnchorIndex
}

// NewVGermlines builds the anchor index of a V germline set. The anchor of a
// gene v at trim t is v[CDR3Offset-A+t : CDR3Offset], A = min(AnchorLen,
// CDR3Offset); windows that contain gap columns are not indexed.
func NewVGermlines(set *Set, opts VOpts) (*VGermlines, error) {
	if opts.AnchorLen <= 0 || opts.MinAnchorLen <= 0 || opts.MinAnchorLen > opts.AnchorLen {
		return nil, fmt.Errorf("germline: invalid V anchor lengths %d/%d", opts.AnchorLen, opts.MinAnchorLen)
	}
	for _, g := range set.names {
		if len(set.seqs[g]) < opts.CDR3Offset {
			return nil, &ReferenceFormatError{Gene: g, Reason: fmt.Sprintf("shorter than the CDR3 offset %d", opts.CDR3Offset)}
		}
	}
	a := opts.AnchorLen
	if a > opts.CDR3Offset {
		a = opts.CDR3Offset
	}
	v := &VGermlines{Set: set, opts: opts}
	v.index = buildIndex(set.names, a-opts.MinAnchorLen, func(g string, trim int) (string, bool) {
		if a-trim < opts.MinAnchorLen {
			return "", false
		}
		w := set.seqs[g][opts.CDR3Offset-a+trim : opts.CDR3Offset]
		if strings.IndexByte(w, util.Gap) >= 0 {
			return "", false
		}
		return w, true
	})
	return v, nil
}

// Opts returns the settings the index was built with.
func (v *VGermlines) Opts() VOpts { return v.opts }

// Index returns the anchor index.
func (v *VGermlines) Index() *AnchorIndex { return v.index }
