package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/unsafe"
)

// Record is a row that a Session can write.
type Record interface {
	save(ctx context.Context, q querier) error
}

func lastID(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Study groups samples.
type Study struct {
	ID   int64
	Name string
}

func (st *Study) save(ctx context.Context, q querier) (err error) {
	st.ID, err = lastID(q.ExecContext(ctx, `INSERT INTO studies (name) VALUES (?)`, st.Name))
	return
}

// Subject is the individual a sample was taken from.
type Subject struct {
	ID         int64
	StudyID    int64
	Identifier string
}

func (sub *Subject) save(ctx context.Context, q querier) (err error) {
	sub.ID, err = lastID(q.ExecContext(ctx, `INSERT INTO subjects (study_id, identifier) VALUES (?, ?)`,
		sub.StudyID, sub.Identifier))
	return
}

// Sample statuses.
const (
	StatusNew        = ""
	StatusIdentified = "identified"
)

// Sample is one sequenced sample. Saving a sample that already has an ID
// updates it.
type Sample struct {
	ID           int64
	StudyID      int64
	Name         string
	SubjectID    sql.NullInt64
	Date         string
	Subset       string
	Tissue       string
	Disease      string
	Lab          string
	Experimenter string
	IgClass      string
	VPrimer      string
	JPrimer      string
	Paired       bool
	Status       string
	// InputChecksum is the seahash of the read file, in hex.
	InputChecksum string
	RunID         string
}

const sampleColumns = `id, study_id, name, subject_id, date, subset, tissue, disease, lab, experimenter,
	ig_class, v_primer, j_primer, paired, status, input_checksum, run_id`

func (sm *Sample) save(ctx context.Context, q querier) error {
	args := []interface{}{sm.StudyID, sm.Name, sm.SubjectID, sm.Date, sm.Subset, sm.Tissue, sm.Disease,
		sm.Lab, sm.Experimenter, sm.IgClass, sm.VPrimer, sm.JPrimer, sm.Paired, sm.Status,
		sm.InputChecksum, sm.RunID}
	if sm.ID != 0 {
		_, err := q.ExecContext(ctx, `UPDATE samples SET study_id = ?, name = ?, subject_id = ?, date = ?,
			subset = ?, tissue = ?, disease = ?, lab = ?, experimenter = ?, ig_class = ?, v_primer = ?,
			j_primer = ?, paired = ?, status = ?, input_checksum = ?, run_id = ? WHERE id = ?`,
			append(args, sm.ID)...)
		return err
	}
	var err error
	sm.ID, err = lastID(q.ExecContext(ctx, `INSERT INTO samples (study_id, name, subject_id, date, subset,
		tissue, disease, lab, experimenter, ig_class, v_primer, j_primer, paired, status, input_checksum,
		run_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...))
	return err
}

func scanSamples(rows *sql.Rows) ([]*Sample, error) {
	defer rows.Close() // nolint: errcheck
	var out []*Sample
	for rows.Next() {
		sm := &Sample{}
		if err := rows.Scan(&sm.ID, &sm.StudyID, &sm.Name, &sm.SubjectID, &sm.Date, &sm.Subset, &sm.Tissue,
			&sm.Disease, &sm.Lab, &sm.Experimenter, &sm.IgClass, &sm.VPrimer, &sm.JPrimer, &sm.Paired,
			&sm.Status, &sm.InputChecksum, &sm.RunID); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// SeqHash is the fingerprint stored with every sequence for lookups by
// content.
func SeqHash(seq string) int64 {
	return int64(farm.Fingerprint64(unsafe.StringToBytes(seq)))
}

// Sequence is an identified unique sequence.
type Sequence struct {
	ID       int64
	SampleID int64
	// SeqID is the ID of the first read collapsed into this sequence.
	SeqID    string
	Reversed bool

	VGene, JGene                  string
	VLength, VMatch               int
	JLength, JMatch               int
	PreCDR3Length, PreCDR3Match   int
	PostCDR3Length, PostCDR3Match int
	PadLength                     int
	NumGaps                       int

	InFrame, Functional, Stop bool
	CopyNumber                int

	CDR3NumNTs     int
	CDR3NT, CDR3AA string

	Sequence         string
	SequenceReplaced string
	Germline         string
	// Quality is the phred+33 encoded quality of each aligned column, ' '
	// where unknown. It is empty when the input had no qualities.
	Quality          string
	MutationFraction float64
	MutationCount    int
	CloneID          sql.NullInt64
}

const sequenceColumns = `id, sample_id, seq_id, reversed, v_gene, j_gene, v_length, v_match, j_length, j_match,
	pre_cdr3_length, pre_cdr3_match, post_cdr3_length, post_cdr3_match, pad_length, num_gaps, in_frame,
	functional, stop, copy_number, cdr3_num_nts, cdr3_nt, cdr3_aa, sequence, sequence_replaced, germline,
	quality, mutation_fraction, mutation_count, clone_id`

func (sq *Sequence) save(ctx context.Context, q querier) (err error) {
	sq.ID, err = lastID(q.ExecContext(ctx, `INSERT INTO sequences (sample_id, seq_id, seq_hash, reversed,
		v_gene, j_gene, v_length, v_match, j_length, j_match, pre_cdr3_length, pre_cdr3_match,
		post_cdr3_length, post_cdr3_match, pad_length, num_gaps, in_frame, functional, stop, copy_number,
		cdr3_num_nts, cdr3_nt, cdr3_aa, sequence, sequence_replaced, germline, quality, mutation_fraction,
		mutation_count, clone_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sq.SampleID, sq.SeqID, SeqHash(sq.SequenceReplaced), sq.Reversed, sq.VGene, sq.JGene, sq.VLength,
		sq.VMatch, sq.JLength, sq.JMatch, sq.PreCDR3Length, sq.PreCDR3Match, sq.PostCDR3Length,
		sq.PostCDR3Match, sq.PadLength, sq.NumGaps, sq.InFrame, sq.Functional, sq.Stop, sq.CopyNumber,
		sq.CDR3NumNTs, sq.CDR3NT, sq.CDR3AA, sq.Sequence, sq.SequenceReplaced, sq.Germline, sq.Quality,
		sq.MutationFraction, sq.MutationCount, sq.CloneID))
	return
}

func scanSequences(rows *sql.Rows) ([]*Sequence, error) {
	defer rows.Close() // nolint: errcheck
	var out []*Sequence
	for rows.Next() {
		sq := &Sequence{}
		var quality sql.NullString
		if err := rows.Scan(&sq.ID, &sq.SampleID, &sq.SeqID, &sq.Reversed, &sq.VGene, &sq.JGene,
			&sq.VLength, &sq.VMatch, &sq.JLength, &sq.JMatch, &sq.PreCDR3Length, &sq.PreCDR3Match,
			&sq.PostCDR3Length, &sq.PostCDR3Match, &sq.PadLength, &sq.NumGaps, &sq.InFrame, &sq.Functional,
			&sq.Stop, &sq.CopyNumber, &sq.CDR3NumNTs, &sq.CDR3NT, &sq.CDR3AA, &sq.Sequence,
			&sq.SequenceReplaced, &sq.Germline, &quality, &sq.MutationFraction, &sq.MutationCount,
			&sq.CloneID); err != nil {
			return nil, err
		}
		sq.Quality = quality.String
		out = append(out, sq)
	}
	return out, rows.Err()
}

// EncodeQuality encodes phred scores as phred+33 text, ' ' for negative
// scores.
func EncodeQuality(q []int) string {
	if q == nil {
		return ""
	}
	b := make([]byte, len(q))
	for i, v := range q {
		if v < 0 {
			b[i] = ' '
			continue
		}
		if v > 93 {
			v = 93
		}
		b[i] = byte(v + 33)
	}
	return string(b)
}

// DuplicateSequence records a read collapsed into another read's sequence.
type DuplicateSequence struct {
	SampleID int64
	SeqID    string
	// DuplicateSeqID is the SeqID of the sequence this read was folded into.
	DuplicateSeqID string
}

func (d *DuplicateSequence) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `INSERT INTO duplicate_sequences (sample_id, seq_id, duplicate_seq_id)
		VALUES (?, ?, ?)`, d.SampleID, d.SeqID, d.DuplicateSeqID)
	return err
}

// NoResult records a read that could not be aligned.
type NoResult struct {
	SampleID int64
	SeqID    string
	Reason   string
}

func (n *NoResult) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `INSERT INTO noresults (sample_id, seq_id, reason) VALUES (?, ?, ?)`,
		n.SampleID, n.SeqID, n.Reason)
	return err
}

// SampleStats summarizes an identified sample. Saving replaces any previous
// row of the sample.
type SampleStats struct {
	SampleID        int64
	Reads           int
	SequenceCount   int
	ValidCount      int
	NoResultCount   int
	FunctionalCount int
	InFrameCount    int
	StopCount       int
	AvgVLength      float64
	StdDevVLength   float64
	AvgMutationFrac float64
	// Mutations is the JSON encoded mutation tally of the sample.
	Mutations string
}

const sampleStatsColumns = `sample_id, reads, sequence_cnt, valid_cnt, no_result_cnt, functional_cnt,
	in_frame_cnt, stop_cnt, avg_v_length, stddev_v_length, avg_mutation_frac, mutations`

func (st *SampleStats) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `INSERT OR REPLACE INTO sample_stats (`+sampleStatsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, st.SampleID, st.Reads, st.SequenceCount, st.ValidCount,
		st.NoResultCount, st.FunctionalCount, st.InFrameCount, st.StopCount, st.AvgVLength, st.StdDevVLength,
		st.AvgMutationFrac, st.Mutations)
	return err
}

// Clone is a group of sequences of one subject sharing their V and J ties
// and a similar CDR3.
type Clone struct {
	ID         int64
	SubjectID  int64
	VGene      string
	JGene      string
	CDR3NumNTs int
	CDR3NT     string
	CDR3AA     string
	Germline   string
}

func (c *Clone) save(ctx context.Context, q querier) (err error) {
	c.ID, err = lastID(q.ExecContext(ctx, `INSERT INTO clones (subject_id, v_gene, j_gene, cdr3_num_nts,
		cdr3_nt, cdr3_aa, germline) VALUES (?, ?, ?, ?, ?, ?, ?)`, c.SubjectID, c.VGene, c.JGene,
		c.CDR3NumNTs, c.CDR3NT, c.CDR3AA, c.Germline))
	return
}

// CloneMember assigns a sequence to a clone. The clone must be saved first,
// possibly earlier in the same flush.
type CloneMember struct {
	SequenceID int64
	Clone      *Clone
}

func (m *CloneMember) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `UPDATE sequences SET clone_id = ? WHERE id = ?`, m.Clone.ID, m.SequenceID)
	return err
}

// CloneStats summarizes a clone.
type CloneStats struct {
	Clone       *Clone
	UniqueCount int
	TotalCount  int
	// Mutations is the JSON encoded mutation tally of the clone.
	Mutations string
}

func (st *CloneStats) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `INSERT OR REPLACE INTO clone_stats (clone_id, unique_cnt, total_cnt, mutations)
		VALUES (?, ?, ?, ?)`, st.Clone.ID, st.UniqueCount, st.TotalCount, st.Mutations)
	return err
}

// ModificationLog records one run against the database.
type ModificationLog struct {
	RunID      string
	ActionType string
	// Info is a JSON document describing the run.
	Info    string
	Created time.Time
}

func (m *ModificationLog) save(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `INSERT INTO modification_logs (run_id, action_type, info, created)
		VALUES (?, ?, ?, ?)`, m.RunID, m.ActionType, m.Info, m.Created.UTC().Format(time.RFC3339))
	return err
}

// FormatChecksum renders a 64-bit checksum as fixed-width hex.
func FormatChecksum(sum uint64) string {
	s := strconv.FormatUint(sum, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}
