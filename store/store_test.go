package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*DB, func()) {
	dir, cleanup := testutil.TempDir(t, "", "")
	db, err := Open(context.Background(), filepath.Join(dir, "immune.db"))
	require.NoError(t, err)
	return db, func() {
		assert.NoError(t, db.Close())
		cleanup()
	}
}

func TestGetOrCreate(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s, err := db.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck

	st, created, err := s.GetOrCreateStudy(ctx, "study1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, int64(0), st.ID)
	again, created, err := s.GetOrCreateStudy(ctx, "study1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, st.ID, again.ID)

	sub, created, err := s.GetOrCreateSubject(ctx, st, "subj")
	require.NoError(t, err)
	assert.True(t, created)
	sm, created, err := s.GetOrCreateSample(ctx, st, "sample1")
	require.NoError(t, err)
	assert.True(t, created)
	sm.SubjectID = sql.NullInt64{Int64: sub.ID, Valid: true}
	sm.Tissue = "blood"
	s.Add(sm)
	require.NoError(t, s.Commit(ctx))

	// A second session sees the committed rows.
	s2, err := db.NewSession(ctx)
	require.NoError(t, err)
	defer s2.Close() // nolint: errcheck
	sm2, created, err := s2.GetOrCreateSample(ctx, st, "sample1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sm.ID, sm2.ID)
	assert.Equal(t, "blood", sm2.Tissue)
	assert.Equal(t, sub.ID, sm2.SubjectID.Int64)
}

func TestFlushAndCommit(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s, err := db.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck

	st, _, err := s.GetOrCreateStudy(ctx, "study")
	require.NoError(t, err)
	sm, _, err := s.GetOrCreateSample(ctx, st, "sample")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	has, err := s.SampleHasSequences(ctx, "sample")
	require.NoError(t, err)
	assert.False(t, has)

	seq := &Sequence{SampleID: sm.ID, SeqID: "r1", VGene: "IGHV1-2*01", JGene: "IGHJ4*02",
		Sequence: "ACGT", SequenceReplaced: "ACGT", CopyNumber: 2, Quality: EncodeQuality([]int{40, -1})}
	s.Add(seq)
	s.BulkAdd([]Record{
		&DuplicateSequence{SampleID: sm.ID, SeqID: "r2", DuplicateSeqID: "r1"},
		&NoResult{SampleID: sm.ID, SeqID: "r3", Reason: "no J anchor"},
	})
	assert.Equal(t, 3, s.Pending())
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 0, s.Pending())
	assert.NotEqual(t, int64(0), seq.ID)

	// Flushed but not committed: other connections do not see the rows.
	n, err := db.Count(ctx, "sequences")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Commit(ctx))
	for table, want := range map[string]int{"sequences": 1, "duplicate_sequences": 1, "noresults": 1} {
		n, err := db.Count(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
	has, err = s.SampleHasSequences(ctx, "sample")
	require.NoError(t, err)
	assert.True(t, has)

	seqs, err := db.SampleSequences(ctx, sm.ID)
	require.NoError(t, err)
	require.Len(t, seqs, 1)
	assert.Equal(t, "I ", seqs[0].Quality)
	assert.Equal(t, "IGHV1-2*01", seqs[0].VGene)
	assert.Equal(t, 2, seqs[0].CopyNumber)

	found, err := db.FindSequences(ctx, "ACGT")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "r1", found[0].SeqID)
	found, err = db.FindSequences(ctx, "ACGA")
	require.NoError(t, err)
	assert.Len(t, found, 0)

	_, err = db.Count(ctx, "sqlite_master; DROP TABLE samples")
	assert.Error(t, err)
}

func TestRollbackOnError(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s, err := db.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck
	st, _, err := s.GetOrCreateStudy(ctx, "study")
	require.NoError(t, err)
	sm, _, err := s.GetOrCreateSample(ctx, st, "sample")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	s.Add(&Sequence{SampleID: sm.ID, SeqID: "r1"})
	s.Add(&Sequence{SampleID: sm.ID, SeqID: "r1"})
	assert.Error(t, s.Commit(ctx))
	n, err := db.Count(ctx, "sequences")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatsAndClones(t *testing.T) {
	db, cleanup := openTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s, err := db.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck
	st, _, err := s.GetOrCreateStudy(ctx, "study")
	require.NoError(t, err)
	sub, _, err := s.GetOrCreateSubject(ctx, st, "subject")
	require.NoError(t, err)
	sm, _, err := s.GetOrCreateSample(ctx, st, "sample")
	require.NoError(t, err)
	sm.SubjectID = sql.NullInt64{Int64: sub.ID, Valid: true}
	sm.Status = StatusIdentified
	seq := &Sequence{SampleID: sm.ID, SeqID: "r1", Functional: true}
	s.BulkAdd([]Record{sm, seq, &SampleStats{SampleID: sm.ID, Reads: 3, SequenceCount: 1, Mutations: "{}"}})
	s.Add(&ModificationLog{RunID: "run", ActionType: "identify", Info: "{}", Created: time.Now()})
	require.NoError(t, s.Commit(ctx))

	stats, err := db.SampleStats(ctx, sm.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Reads)
	none, err := db.SampleStats(ctx, sm.ID+1)
	require.NoError(t, err)
	assert.Nil(t, none)

	uncloned, err := db.UnclonedSequences(ctx, sub.ID, true)
	require.NoError(t, err)
	require.Len(t, uncloned, 1)

	clone := &Clone{SubjectID: sub.ID, VGene: "IGHV1-2*01", JGene: "IGHJ4*02", CDR3NumNTs: 3, CDR3NT: "TGT", CDR3AA: "C"}
	s.BulkAdd([]Record{clone, &CloneMember{SequenceID: seq.ID, Clone: clone},
		&CloneStats{Clone: clone, UniqueCount: 1, TotalCount: 1, Mutations: "{}"}})
	require.NoError(t, s.Commit(ctx))
	clones, err := db.Clones(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, clones, 1)
	assert.Equal(t, clone.ID, clones[0].ID)
	uncloned, err = db.UnclonedSequences(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Len(t, uncloned, 0)

	samples, err := db.Samples(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, StatusIdentified, samples[0].Status)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "", EncodeQuality(nil))
	assert.Equal(t, "!I ~", EncodeQuality([]int{0, 40, -1, 120}))
	assert.Equal(t, "00000000000000ff", FormatChecksum(255))
	assert.Equal(t, SeqHash("ACGT"), SeqHash("ACGT"))
	assert.NotEqual(t, SeqHash("ACGT"), SeqHash("ACGA"))
	assert.Equal(t, "q.a, q.b,\n\tq.c", prefixed("q.", "a, b,\n\tc"))
}
