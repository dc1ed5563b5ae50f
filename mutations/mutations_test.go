package mutations

import (
	"encoding/json"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestRegions(t *testing.T) {
	expect.EQ(t, Regions(nil, nil), []int{78, 36, 51, 30, 114})
	expect.EQ(t, Regions([]Insertion{{Pos: 80, Size: 3}}, nil), []int{78, 39, 51, 30, 114})
	expect.EQ(t, Regions([]Insertion{{Pos: 77, Size: 3}, {Pos: 300, Size: 6}}, nil), []int{81, 36, 51, 30, 120})
	expect.EQ(t, DefaultRegions, []int{78, 36, 51, 30, 114})

	for _, c := range []struct {
		pos  int
		want string
	}{
		{0, "FR1"}, {77, "FR1"}, {78, "CDR1"}, {114, "FR2"}, {165, "CDR2"},
		{195, "FR3"}, {308, "FR3"}, {309, "CDR3"}, {338, "CDR3"}, {339, "FR4"},
	} {
		expect.EQ(t, RegionAt(DefaultRegions, 30, c.pos), c.want, c.pos)
	}
}

const germ = "ATGGCCAAATTTGGG---CCC"

var (
	testRegions = []int{3, 3, 3, 3, 3}
	seq1        = "ATAGCCAAGTTTGGGTGTCCA"
	seq2        = "NTGGCTAAATTTGG-TGTCCC"
	seq3        = "ATGTCCAAATNAGGG"
)

func TestAddSequence(t *testing.T) {
	c := NewCaller(germ, 3, nil, testRegions)
	muts := c.AddSequence(seq1)
	expect.EQ(t, muts, []Mutation{
		{Pos: 2, From: 'G', To: 'A', Region: "FR1", Type: Nonsynonymous},
		{Pos: 8, From: 'A', To: 'G', Region: "FR2", Type: Synonymous},
		{Pos: 20, From: 'C', To: 'A', Region: "FR4", Type: Synonymous},
	})
	muts = c.AddSequence(seq2)
	expect.EQ(t, muts, []Mutation{{Pos: 5, From: 'C', To: 'T', Region: "CDR1", Type: Synonymous}})
	muts = c.AddSequence(seq3)
	expect.EQ(t, muts, []Mutation{
		{Pos: 3, From: 'G', To: 'T', Region: "CDR1", Type: Nonsynonymous},
		{Pos: 11, From: 'T', To: 'A', Region: "CDR2", Type: Unknown},
	})
	expect.EQ(t, len(c.AddSequence(germ)), 0)

	tally := c.Aggregate()
	expect.EQ(t, tally.Region("CDR1"), Counts{Synonymous: 1, Nonsynonymous: 1})
	expect.EQ(t, tally.Region("CDR3"), Counts{})
	expect.EQ(t, tally.Total().Total(), 6)
	pos := tally.Positions()
	assert.EQ(t, len(pos), 6)
	expect.EQ(t, pos[0], PositionCounts{Pos: 2, Counts: Counts{Nonsynonymous: 1}})
	expect.EQ(t, pos[5].Pos, 20)

	// Aggregate returns a copy.
	c.AddSequence(seq1)
	expect.EQ(t, tally.Total().Total(), 6)
	expect.EQ(t, c.Aggregate().Total().Total(), 9)
}

func TestTallyAdditive(t *testing.T) {
	all := NewCaller(germ, 3, nil, testRegions)
	first := NewCaller(germ, 3, nil, testRegions)
	second := NewCaller(germ, 3, nil, testRegions)
	for _, s := range []string{seq1, seq2, seq3} {
		all.AddSequence(s)
	}
	first.AddSequence(seq1)
	second.AddSequence(seq2)
	second.AddSequence(seq3)

	merged := first.Aggregate()
	merged.Merge(second.Aggregate())
	want := all.Aggregate()
	expect.EQ(t, merged.Regions(), want.Regions())
	expect.EQ(t, merged.Positions(), want.Positions())
}

func TestWeighted(t *testing.T) {
	c := NewCaller(germ, 3, nil, testRegions)
	c.AddSequenceWeighted(seq1, 4)
	expect.EQ(t, c.Aggregate().Region("FR2"), Counts{Synonymous: 4})
}

func TestTallyJSON(t *testing.T) {
	c := NewCaller(germ, 3, nil, testRegions)
	c.AddSequence(seq1)
	c.AddSequence(seq3)
	data, err := json.Marshal(c.Aggregate())
	require.NoError(t, err)
	var got Tally
	require.NoError(t, json.Unmarshal(data, &got))
	expect.EQ(t, got.Regions(), c.Aggregate().Regions())
	expect.EQ(t, got.Positions(), c.Aggregate().Positions())
}

func TestPercent(t *testing.T) {
	expect.EQ(t, Percent(1, 3), 33.33)
	expect.EQ(t, Percent(2, 3), 66.67)
	expect.EQ(t, Percent(1, 0), 0.0)
	expect.EQ(t, FractionPercent(0.04996), 5.0)
	expect.EQ(t, FractionPercent(0.25), 25.0)
}
