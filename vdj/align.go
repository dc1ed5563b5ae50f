// Package vdj aligns unique reads against V and J germlines. An aligned read
// carries its V and J tie-sets, the CDR3 boundaries, a germline sequence in
// the shared V column coordinate system and the read with ambiguous bases
// replaced from that germline.
package vdj

import (
	"strings"

	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/reads"
	"github.com/grailbio/immune/util"
)

// Opts configures an Aligner.
type Opts struct {
	// MinSimilarity is the lowest fraction of matching bases, against the best
	// V and J germlines, of an aligned read.
	MinSimilarity float64
	// MaxVTies is the largest V tie-set accepted.
	MaxVTies int
}

// DefaultOpts holds the default alignment settings.
var DefaultOpts = Opts{
	MinSimilarity: 0.60,
	MaxVTies:      50,
}

// Reasons reported by Unaligned outcomes.
const (
	ReasonNoJAnchor     = "no J anchor"
	ReasonNoVAnchor     = "no V anchor"
	ReasonShortCDR3     = "CDR3 length is not positive"
	ReasonVSimilarity   = "V identity below minimum"
	ReasonJSimilarity   = "J identity below minimum"
	ReasonTooManyVTies  = "too many V ties"
	ReasonEmptySequence = "empty sequence"
)

// Outcome is the result of aligning one read: either an Alignment or the
// reason the read could not be aligned.
type Outcome struct {
	Alignment *Alignment
	Reason    string
}

// OK reports whether the read aligned.
func (o Outcome) OK() bool { return o.Alignment != nil }

// Aligned returns a successful Outcome.
func Aligned(a *Alignment) Outcome { return Outcome{Alignment: a} }

// Unaligned returns a failed Outcome.
func Unaligned(reason string) Outcome { return Outcome{Reason: reason} }

// Aligner aligns reads against a fixed pair of germline indices. It is safe
// for concurrent use.
type Aligner struct {
	v    *germline.VGermlines
	j    *germline.JGermlines
	opts Opts
}

// NewAligner creates an Aligner.
func NewAligner(v *germline.VGermlines, j *germline.JGermlines, opts Opts) *Aligner {
	return &Aligner{v: v, j: j, opts: opts}
}

// Align aligns u. The result depends only on u and the germlines.
func (a *Aligner) Align(u *reads.UniqueRead) Outcome {
	if len(u.Seq) == 0 {
		return Unaligned(ReasonEmptySequence)
	}
	seq, qual, reversed := u.Seq, u.Quality, false
	jHit, ok := a.j.Index().Find(seq)
	if !ok {
		rc := util.ReverseComplement(seq)
		if jHit, ok = a.j.Index().Find(rc); !ok {
			return Unaligned(ReasonNoJAnchor)
		}
		seq, qual, reversed = rc, reverseInts(qual), true
	}
	jGene := jHit.Genes[0]
	jSeq, _ := a.j.Seq(jGene)
	jOpts := a.j.Opts()
	jWindow := jOpts.AnchorLen
	if jWindow > len(jSeq) {
		jWindow = len(jSeq)
	}
	// Read index of the first J base.
	jStart := jHit.Pos - (len(jSeq) - jWindow)

	vHit, ok := a.v.Index().Find(seq[:jHit.Pos])
	if !ok {
		return Unaligned(ReasonNoVAnchor)
	}
	cdr3Start := vHit.Pos + len(vHit.Anchor)
	cdr3Len := jStart + len(jSeq) - jOpts.UpstreamOfCDR3 - cdr3Start
	if cdr3Len <= 0 {
		return Unaligned(ReasonShortCDR3)
	}

	offset := a.v.Opts().CDR3Offset
	vAnchorSeq, _ := a.v.Seq(vHit.Genes[0])
	aln := &Alignment{
		IDs:       u.IDs,
		Reversed:  reversed,
		CDR3Start: offset,
		CDR3End:   offset + cdr3Len,
	}
	// Gapped V germlines share their column layout, so the anchor gene's gap
	// columns place the read for every candidate.
	aln.place(seq, qual, vAnchorSeq, offset, cdr3Start, jStart+len(jSeq))

	// V tie-set: every gene with the fewest pre-CDR3 mismatches.
	bestMismatch, bestLen := -1, 0
	var bestGene string
	for _, g := range a.v.Names() {
		gs, _ := a.v.Seq(g)
		n, m := compare(aln.Sequence, gs, aln.PadLength, offset)
		mis := n - m
		switch {
		case bestMismatch < 0 || mis < bestMismatch:
			bestMismatch, bestLen, bestGene = mis, n, g
			aln.VGenes = append(aln.VGenes[:0], g)
		case mis == bestMismatch:
			aln.VGenes = append(aln.VGenes, g)
			if n > bestLen {
				bestLen, bestGene = n, g
			}
		}
	}
	if len(aln.VGenes) > a.opts.MaxVTies {
		return Unaligned(ReasonTooManyVTies)
	}
	vSeq, _ := a.v.Seq(bestGene)
	aln.Germline = vSeq[:offset] + strings.Repeat("-", cdr3Len) + jSeq[len(jSeq)-jOpts.UpstreamOfCDR3:]
	aln.PreCDR3Length, aln.PreCDR3Match = compare(aln.Sequence, vSeq, aln.PadLength, offset)
	aln.VLength, aln.VMatch = compare(aln.Sequence, vSeq, aln.PadLength, len(vSeq))
	if aln.PreCDR3Length == 0 || float64(aln.PreCDR3Match) < a.opts.MinSimilarity*float64(aln.PreCDR3Length) {
		return Unaligned(ReasonVSimilarity)
	}

	// J anchor region and post-CDR3 region, in aligned coordinates.
	jStartAligned := aln.CDR3End + jOpts.UpstreamOfCDR3 - len(jSeq)
	jGerm := strings.Repeat("-", max(jStartAligned, 0)) + jSeq[max(-jStartAligned, 0):]
	aln.JLength, aln.JMatch = compare(aln.Sequence, jGerm, jStartAligned+len(jSeq)-jWindow, len(jGerm))
	aln.PostCDR3Length, aln.PostCDR3Match = compare(aln.Sequence, aln.Germline, aln.CDR3End, len(aln.Germline))
	if aln.JLength == 0 || float64(aln.JMatch) < a.opts.MinSimilarity*float64(aln.JLength) {
		return Unaligned(ReasonJSimilarity)
	}
	aln.JGenes = a.j.ResolveTie(jGene, len(jHit.Anchor))

	aln.finish()
	return Aligned(aln)
}

// place lays seq onto the aligned coordinate system. Bases before cdr3Start
// fill the V columns right to left, skipping the anchor gene's gap columns;
// bases from cdr3Start up to end follow one to one.
func (aln *Alignment) place(seq string, qual []int, vSeq string, offset, cdr3Start, end int) {
	if end > len(seq) {
		end = len(seq)
	}
	buf := make([]byte, offset, offset+end-cdr3Start)
	q := make([]int, offset, offset+end-cdr3Start)
	first := offset
	ri := cdr3Start - 1
	for c := offset - 1; c >= 0; c-- {
		q[c] = -1
		if vSeq[c] == util.Gap || ri < 0 {
			buf[c] = util.Gap
			continue
		}
		buf[c] = seq[ri]
		if qual != nil {
			q[c] = qual[ri]
		}
		if seq[ri] == util.Gap {
			aln.NumGaps++
		}
		first = c
		ri--
	}
	aln.PadLength = first
	for i := cdr3Start; i < end; i++ {
		buf = append(buf, seq[i])
		if qual != nil {
			q = append(q, qual[i])
		} else {
			q = append(q, -1)
		}
		if seq[i] == util.Gap {
			aln.NumGaps++
		}
	}
	aln.Sequence = string(buf)
	if qual != nil {
		aln.Quality = q
	}
}

// compare counts the columns in [from, to) where both seq and germ carry a
// base, and how many of those agree.
func compare(seq, germ string, from, to int) (n, match int) {
	if from < 0 {
		from = 0
	}
	if to > len(seq) {
		to = len(seq)
	}
	if to > len(germ) {
		to = len(germ)
	}
	for i := from; i < to; i++ {
		s, g := seq[i], germ[i]
		if !util.IsBase(s) || !util.IsBase(g) {
			continue
		}
		n++
		if s == g {
			match++
		}
	}
	return
}

func reverseInts(q []int) []int {
	if q == nil {
		return nil
	}
	r := make([]int, len(q))
	for i, v := range q {
		r[len(q)-1-i] = v
	}
	return r
}
