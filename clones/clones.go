// Package clones groups the identified sequences of a subject into clones:
// sequences with the same V and J ties and CDR3 length whose CDR3 amino acid
// sequences are similar.
package clones

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/mutations"
	"github.com/grailbio/immune/store"
	"github.com/grailbio/immune/util"
)

// Opts configures clone assignment.
type Opts struct {
	// MinSimilarity is the minimum fraction of equal CDR3 amino acids between
	// a sequence and the representative of its clone.
	MinSimilarity float64
	// FunctionalOnly restricts clones to functional sequences.
	FunctionalOnly bool
	// CDR3Offset is the germline column where the CDR3 starts.
	CDR3Offset int
	// Regions are the region widths used for the clone mutation tally.
	Regions []int
}

// DefaultOpts are the default clone options.
var DefaultOpts = Opts{
	MinSimilarity:  0.85,
	FunctionalOnly: true,
	CDR3Offset:     germline.DefaultVOpts.CDR3Offset,
	Regions:        mutations.DefaultRegions,
}

type groupKey struct {
	v, j    string
	cdr3Len int
}

// cluster is one clone under construction. members[0] is the
// representative.
type cluster struct {
	members []*store.Sequence
}

// Similarity returns the fraction of equal positions of two equal-length
// strings, and false when the lengths differ.
func Similarity(a, b string) (float64, bool) {
	if len(a) == 0 && len(b) == 0 {
		return 1, true
	}
	d, err := matchr.Hamming(a, b)
	if err != nil {
		return 0, false
	}
	return 1 - float64(d)/float64(len(a)), true
}

// Group clusters sequences sharing their V tie, J tie and CDR3 length. Within
// a group, sequences are visited by decreasing copy number and join the
// first clone whose representative is similar enough; otherwise they start a
// new clone. The result is ordered by group then by creation.
func Group(seqs []*store.Sequence, minSimilarity float64) [][]*store.Sequence {
	groups := make(map[groupKey][]*store.Sequence)
	var keys []groupKey
	for _, s := range seqs {
		k := groupKey{s.VGene, s.JGene, s.CDR3NumNTs}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}
	var out [][]*store.Sequence
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].CopyNumber > g[j].CopyNumber })
		var clusters []*cluster
		for _, s := range g {
			var home *cluster
			for _, c := range clusters {
				if sim, ok := Similarity(c.members[0].CDR3AA, s.CDR3AA); ok && sim >= minSimilarity {
					home = c
					break
				}
			}
			if home == nil {
				home = &cluster{}
				clusters = append(clusters, home)
			}
			home.members = append(home.members, s)
		}
		for _, c := range clusters {
			out = append(out, c.members)
		}
	}
	return out
}

// Consensus returns the copy-number weighted majority base of every CDR3
// column. N never wins over a base; ties go to the first base in ACGT
// order.
func Consensus(members []*store.Sequence) string {
	if len(members) == 0 {
		return ""
	}
	n := len(members[0].CDR3NT)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var counts [4]int
		for _, m := range members {
			if i >= len(m.CDR3NT) {
				continue
			}
			switch m.CDR3NT[i] {
			case 'A':
				counts[0] += m.CopyNumber
			case 'C':
				counts[1] += m.CopyNumber
			case 'G':
				counts[2] += m.CopyNumber
			case 'T':
				counts[3] += m.CopyNumber
			}
		}
		best := -1
		for b, c := range counts {
			if c > 0 && (best < 0 || c > counts[best]) {
				best = b
			}
		}
		if best < 0 {
			out[i] = 'N'
			continue
		}
		out[i] = "ACGT"[best]
	}
	return string(out)
}

// cloneGermline replaces the CDR3 placeholder of the representative's
// germline by the consensus CDR3.
func cloneGermline(germ string, offset int, cdr3 string) string {
	if offset > len(germ) {
		return germ
	}
	end := offset + len(cdr3)
	if end > len(germ) {
		end = len(germ)
	}
	return germ[:offset] + cdr3 + germ[end:]
}

// Assign creates clones for the subject's sequences that have none yet, and
// returns them. The clones, their members and their statistics are written in
// one transaction.
func Assign(ctx context.Context, db *store.DB, subjectID int64, opts Opts) ([]*store.Clone, error) {
	seqs, err := db.UnclonedSequences(ctx, subjectID, opts.FunctionalOnly)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		log.Printf("subject %d: no sequences to clone", subjectID)
		return nil, nil
	}
	session, err := db.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close() // nolint: errcheck

	var clones []*store.Clone
	for _, members := range Group(seqs, opts.MinSimilarity) {
		rep := members[0]
		cdr3 := Consensus(members)
		clone := &store.Clone{
			SubjectID:  subjectID,
			VGene:      rep.VGene,
			JGene:      rep.JGene,
			CDR3NumNTs: rep.CDR3NumNTs,
			CDR3NT:     cdr3,
			CDR3AA:     util.Translate(cdr3),
			Germline:   cloneGermline(rep.Germline, opts.CDR3Offset, cdr3),
		}
		session.Add(clone)
		caller := mutations.NewCaller(clone.Germline, clone.CDR3NumNTs, nil, opts.Regions)
		stats := &store.CloneStats{Clone: clone, UniqueCount: len(members)}
		for _, m := range members {
			session.Add(&store.CloneMember{SequenceID: m.ID, Clone: clone})
			caller.AddSequenceWeighted(m.SequenceReplaced, m.CopyNumber)
			stats.TotalCount += m.CopyNumber
		}
		data, err := json.Marshal(caller.Aggregate())
		if err != nil {
			return nil, err
		}
		stats.Mutations = string(data)
		session.Add(stats)
		clones = append(clones, clone)
	}
	if err := session.Commit(ctx); err != nil {
		return nil, errors.E(err, "assign clones")
	}
	log.Printf("subject %d: %d sequences in %d clones", subjectID, len(seqs), len(clones))
	return clones, nil
}
