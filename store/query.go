package store

import (
	"context"
	"database/sql"

	"github.com/grailbio/base/errors"
)

// Samples returns every sample, ordered by ID.
func (db *DB) Samples(ctx context.Context) ([]*Sample, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY id`)
	if err != nil {
		return nil, errors.E(err, "query samples")
	}
	return scanSamples(rows)
}

// SampleStats returns the statistics of a sample, or nil if the sample has
// none.
func (db *DB) SampleStats(ctx context.Context, sampleID int64) (*SampleStats, error) {
	st := &SampleStats{}
	err := db.db.QueryRowContext(ctx, `SELECT `+sampleStatsColumns+` FROM sample_stats WHERE sample_id = ?`,
		sampleID).Scan(&st.SampleID, &st.Reads, &st.SequenceCount, &st.ValidCount, &st.NoResultCount,
		&st.FunctionalCount, &st.InFrameCount, &st.StopCount, &st.AvgVLength, &st.StdDevVLength,
		&st.AvgMutationFrac, &st.Mutations)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(err, "query sample stats")
	}
	return st, nil
}

// Subjects returns every subject, ordered by ID.
func (db *DB) Subjects(ctx context.Context) ([]*Subject, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, study_id, identifier FROM subjects ORDER BY id`)
	if err != nil {
		return nil, errors.E(err, "query subjects")
	}
	defer rows.Close() // nolint: errcheck
	var out []*Subject
	for rows.Next() {
		sub := &Subject{}
		if err := rows.Scan(&sub.ID, &sub.StudyID, &sub.Identifier); err != nil {
			return nil, errors.E(err, "query subjects")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SampleSequences returns the sequences of one sample, ordered by ID.
func (db *DB) SampleSequences(ctx context.Context, sampleID int64) ([]*Sequence, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE sample_id = ? ORDER BY id`,
		sampleID)
	if err != nil {
		return nil, errors.E(err, "query sequences")
	}
	return scanSequences(rows)
}

// UnclonedSequences returns the sequences of a subject's samples that are
// not assigned to a clone, ordered by ID.
func (db *DB) UnclonedSequences(ctx context.Context, subjectID int64, functionalOnly bool) ([]*Sequence, error) {
	query := `SELECT ` + prefixed("q.", sequenceColumns) + ` FROM sequences q JOIN samples s ON q.sample_id = s.id
		WHERE s.subject_id = ? AND q.clone_id IS NULL`
	if functionalOnly {
		query += ` AND q.functional = 1`
	}
	rows, err := db.db.QueryContext(ctx, query+` ORDER BY q.id`, subjectID)
	if err != nil {
		return nil, errors.E(err, "query uncloned sequences")
	}
	return scanSequences(rows)
}

// FindSequences returns the sequences, in any sample, whose replaced
// sequence equals seq.
func (db *DB) FindSequences(ctx context.Context, seq string) ([]*Sequence, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+sequenceColumns+` FROM sequences
		WHERE seq_hash = ? AND sequence_replaced = ? ORDER BY id`, SeqHash(seq), seq)
	if err != nil {
		return nil, errors.E(err, "query sequences by content")
	}
	return scanSequences(rows)
}

// Clones returns the clones of a subject, ordered by ID.
func (db *DB) Clones(ctx context.Context, subjectID int64) ([]*Clone, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, subject_id, v_gene, j_gene, cdr3_num_nts, cdr3_nt, cdr3_aa,
		germline FROM clones WHERE subject_id = ? ORDER BY id`, subjectID)
	if err != nil {
		return nil, errors.E(err, "query clones")
	}
	defer rows.Close() // nolint: errcheck
	var out []*Clone
	for rows.Next() {
		c := &Clone{}
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.VGene, &c.JGene, &c.CDR3NumNTs, &c.CDR3NT, &c.CDR3AA,
			&c.Germline); err != nil {
			return nil, errors.E(err, "query clones")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of rows of a table. It is meant for tests and
// reports.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "studies", "subjects", "samples", "sequences", "duplicate_sequences", "noresults", "sample_stats",
		"clones", "clone_stats", "modification_logs":
	default:
		return 0, errors.E(errors.Invalid, "unknown table", table)
	}
	var n int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, errors.E(err, "count", table)
	}
	return n, nil
}

func prefixed(prefix, columns string) string {
	out := make([]byte, 0, len(columns)+64)
	start := true
	for i := 0; i < len(columns); i++ {
		c := columns[i]
		if start && c != ' ' && c != '\t' && c != '\n' {
			out = append(out, prefix...)
			start = false
		}
		if c == ',' {
			start = true
		}
		out = append(out, c)
	}
	return string(out)
}
