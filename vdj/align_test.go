package vdj

import (
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/reads"
	"github.com/grailbio/immune/util"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/testutil/h"
)

const (
	v1 = "TTTCCTCATGCAATTCAAAACCATGTCCGT"
	// v2 differs from v1 at columns 2 and 5.
	v2 = "TTACCACATGCAATTCAAAACCATGTCCGT"
	v3 = "AATGTAGGCGAAATAGTAAACCATTTTACG"

	j1 = "GCTAAAGACAATTACATAACATACACGTCA"
	j2 = "GCACGAAACTTGTACATAACATACACGGGG"
	j3 = "CTTAAGGGTTAAGTAAGTGTGATGCATACG"

	cdr3Fill = "GAGGATACCAAA"
	read     = v1 + cdr3Fill + j1
)

func newTestAligner(t *testing.T, opts Opts) *Aligner {
	vs, err := germline.Parse(strings.NewReader(
		">IGHV1-1*01\n"+v1+"\n>IGHV1-2*01\n"+v2+"\n>IGHV3-1*01\n"+v3+"\n"), germline.VPrefix, true)
	assert.NoError(t, err)
	v, err := germline.NewVGermlines(vs, germline.VOpts{CDR3Offset: 30, AnchorLen: 12, MinAnchorLen: 9})
	assert.NoError(t, err)
	js, err := germline.Parse(strings.NewReader(
		">IGHJ1*01\n"+j1+"\n>IGHJ2*01\n"+j2+"\n>IGHJ3*01\n"+j3+"\n"), germline.JPrefix, false)
	assert.NoError(t, err)
	j, err := germline.NewJGermlines(js, germline.JOpts{UpstreamOfCDR3: 24, AnchorLen: 18, MinAnchorLen: 12})
	assert.NoError(t, err)
	return NewAligner(v, j, opts)
}

func unique(seq string, ids ...string) *reads.UniqueRead {
	return &reads.UniqueRead{Seq: seq, IDs: ids}
}

func TestAlign(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	o := a.Align(unique(read, "r1", "r2"))
	assert.True(t, o.OK(), o.Reason)
	aln := o.Alignment
	expect.That(t, aln.VGenes, h.ElementsAre("IGHV1-1*01"))
	expect.That(t, aln.JGenes, h.ElementsAre("IGHJ1*01"))
	expect.EQ(t, aln.VTie(), "IGHV1-1*01")
	expect.EQ(t, aln.Count(), 2)
	expect.EQ(t, aln.Sequence, read)
	expect.EQ(t, aln.SequenceReplaced, read)
	expect.EQ(t, aln.Germline, v1+strings.Repeat("-", 18)+j1[6:])
	expect.EQ(t, aln.PadLength, 0)
	expect.EQ(t, aln.CDR3Start, 30)
	expect.EQ(t, aln.CDR3Len(), 18)
	expect.EQ(t, aln.CDR3NT, "GAGGATACCAAAGCTAAA")
	expect.EQ(t, aln.CDR3AA, "EDTKAK")
	expect.True(t, aln.InFrame)
	expect.False(t, aln.Stop)
	expect.True(t, aln.Functional)
	expect.EQ(t, aln.VLength, 30)
	expect.EQ(t, aln.VMatch, 30)
	expect.EQ(t, aln.JLength, 18)
	expect.EQ(t, aln.JMatch, 18)
	expect.EQ(t, aln.PostCDR3Length, 24)
	expect.EQ(t, aln.PostCDR3Match, 24)
	expect.EQ(t, aln.MutationFraction, 0.0)
	expect.False(t, aln.Reversed)
}

func TestAlignTruncated(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	o := a.Align(unique(read[6:], "r1"))
	assert.True(t, o.OK(), o.Reason)
	aln := o.Alignment
	expect.EQ(t, aln.PadLength, 6)
	expect.EQ(t, aln.Sequence, "------"+read[6:])
	expect.EQ(t, aln.SequenceReplaced, read)
	// The two V genes differ only inside the pad.
	expect.That(t, aln.VGenes, h.ElementsAre("IGHV1-1*01", "IGHV1-2*01"))
	expect.EQ(t, aln.VTie(), "IGHV1-1*01|1-2*01")
	expect.EQ(t, aln.PreCDR3Length, 24)

	a = newTestAligner(t, Opts{MinSimilarity: 0.6, MaxVTies: 1})
	o = a.Align(unique(read[6:], "r1"))
	expect.False(t, o.OK())
	expect.EQ(t, o.Reason, ReasonTooManyVTies)
}

func TestAlignJMismatch(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	// Two mismatches in the last three bases of the J anchor.
	o := a.Align(unique(v1+cdr3Fill+j1[:27]+"GGA", "r1"))
	assert.True(t, o.OK(), o.Reason)
	aln := o.Alignment
	expect.EQ(t, aln.JLength, 18)
	expect.EQ(t, aln.JMatch, 18-2)
	expect.That(t, aln.JGenes, h.ElementsAre("IGHJ1*01", "IGHJ2*01"))
	expect.EQ(t, aln.PostCDR3Match, 22)
}

func TestAlignReverseComplement(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	o := a.Align(&reads.UniqueRead{Seq: util.ReverseComplement(read), IDs: []string{"r1"}, Quality: make([]int, len(read))})
	assert.True(t, o.OK(), o.Reason)
	expect.True(t, o.Alignment.Reversed)
	expect.EQ(t, o.Alignment.Sequence, read)
	expect.EQ(t, len(o.Alignment.Quality), len(read))
}

func TestAlignFailures(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	for _, c := range []struct {
		seq, reason string
	}{
		{"", ReasonEmptySequence},
		{"ACGTACGTACGTACGTACGTACGTACGT", ReasonNoJAnchor},
		{"GGGGGGGGGGGGGGG" + cdr3Fill + j1, ReasonNoVAnchor},
		{v1 + j1[6:], ReasonShortCDR3},
	} {
		o := a.Align(unique(c.seq, "r"))
		expect.False(t, o.OK(), c.seq)
		expect.EQ(t, o.Reason, c.reason, c.seq)
	}

	// Five substitutions outside the V anchor: 25/30 identity.
	mut := []byte(read)
	for _, i := range []int{0, 4, 8, 12, 16} {
		mut[i] = "CGTA"[strings.IndexByte("ACGT", mut[i])]
	}
	o := a.Align(unique(string(mut), "r"))
	assert.True(t, o.OK(), o.Reason)
	expect.EQ(t, o.Alignment.PreCDR3Match, 25)
	expect.EQ(t, o.Alignment.MutationFraction, 5.0/30)
	strict := newTestAligner(t, Opts{MinSimilarity: 0.9, MaxVTies: 50})
	o = strict.Align(unique(string(mut), "r"))
	expect.EQ(t, o.Reason, ReasonVSimilarity)
}

func TestAlignReplacesAmbiguous(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	withN := read[:10] + "N" + read[11:]
	o := a.Align(unique(withN, "r1"))
	assert.True(t, o.OK(), o.Reason)
	aln := o.Alignment
	expect.EQ(t, aln.Sequence, withN)
	expect.EQ(t, aln.SequenceReplaced, read)
	for i := 0; i < len(aln.SequenceReplaced); i++ {
		if i < len(aln.Germline) && util.IsBase(aln.Germline[i]) {
			c := aln.SequenceReplaced[i]
			expect.True(t, c != 'N' && c != '-', "column %d", i)
		}
	}
}

func TestAlignGermlineOfAssignedGene(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	// v1 and v2 share the V anchor; IGHV1-1*01 sorts first in the index.
	read2 := v2 + cdr3Fill + j1
	o := a.Align(unique(read2, "r1"))
	assert.True(t, o.OK(), o.Reason)
	aln := o.Alignment
	expect.That(t, aln.VGenes, h.ElementsAre("IGHV1-2*01"))
	expect.EQ(t, aln.Germline[:30], v2)
	expect.EQ(t, aln.SequenceReplaced, read2)
	expect.EQ(t, aln.VMatch, 30)
	expect.EQ(t, aln.MutationFraction, 0.0)
	for i := 0; i < 30; i++ {
		expect.EQ(t, aln.SequenceReplaced[i], aln.Germline[i], "column %d", i)
	}

	withN := read2[:2] + "N" + read2[3:]
	o = a.Align(unique(withN, "r2"))
	assert.True(t, o.OK(), o.Reason)
	aln = o.Alignment
	expect.That(t, aln.VGenes, h.ElementsAre("IGHV1-2*01"))
	expect.EQ(t, aln.SequenceReplaced[2], byte('A'))
	expect.EQ(t, aln.SequenceReplaced, read2)
	expect.EQ(t, aln.VLength, 29)
	expect.EQ(t, aln.VMatch, 29)
}

func TestAlignIdempotent(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	for _, seq := range []string{read, read[6:], util.ReverseComplement(read), v1 + j1[6:]} {
		u := unique(seq, "r1")
		expect.True(t, reflect.DeepEqual(a.Align(u), a.Align(u)), seq)
	}
}

func TestCollapser(t *testing.T) {
	a := newTestAligner(t, DefaultOpts)
	c := NewCollapser()
	for i, seq := range []string{read, read[:10] + "N" + read[11:], read[6:]} {
		o := a.Align(unique(seq, string(rune('a'+i))))
		assert.True(t, o.OK(), o.Reason)
		c.Add(o.Alignment)
	}
	// All three replaced sequences are equal to read.
	assert.EQ(t, c.Len(), 1)
	expect.That(t, c.All()[0].IDs, h.ElementsAre("a", "b", "c"))
}

func TestCollapseAmbiguous(t *testing.T) {
	mk := func(seq string, ids ...string) *Alignment {
		return &Alignment{
			Sequence:  seq,
			IDs:       ids,
			VGenes:    []string{"IGHV1-1*01"},
			JGenes:    []string{"IGHJ1*01"},
			CDR3Start: 2,
			CDR3End:   5,
		}
	}
	alns := []*Alignment{
		mk("ACNTT", "a"),
		mk("ACGTT", "b", "c"),
		mk("ACCTT", "d"),
		mk("NNNNA", "e"),
		mk("ACGT", "f"),
	}
	out := CollapseAmbiguous(alns)
	assert.EQ(t, len(out), 4)
	expect.That(t, out[0].IDs, h.ElementsAre("b", "c", "a"))
	expect.That(t, out[1].IDs, h.ElementsAre("d"))
	expect.That(t, out[2].IDs, h.ElementsAre("e"))
	expect.That(t, out[3].IDs, h.ElementsAre("f"))
}
