package identify

import (
	"context"
	"database/sql"
	"encoding/json"
	"runtime/debug"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/immune/mutations"
	"github.com/grailbio/immune/reads"
	"github.com/grailbio/immune/store"
	"github.com/grailbio/immune/vdj"
	"gonum.org/v1/gonum/stat"
)

// Aligner aligns unique reads.
type Aligner interface {
	Align(u *reads.UniqueRead) vdj.Outcome
}

// IdentificationWorker identifies the samples handed to it. It owns its
// persistence session; setupMu is shared by every worker of a run and
// serializes the creation of studies, subjects and samples.
type IdentificationWorker struct {
	session store.Gateway
	aligner Aligner
	setupMu *sync.Mutex
	opts    Opts
	runID   string
}

// NewIdentificationWorker creates a worker.
func NewIdentificationWorker(session store.Gateway, aligner Aligner, setupMu *sync.Mutex, opts Opts, runID string) *IdentificationWorker {
	return &IdentificationWorker{
		session: session,
		aligner: aligner,
		setupMu: setupMu,
		opts:    opts,
		runID:   runID,
	}
}

// Cleanup implements Worker.
func (w *IdentificationWorker) Cleanup() error {
	return w.session.Close()
}

// DoTask implements Worker. It reads and collapses the task's file, then
// identifies the sample.
func (w *IdentificationWorker) DoTask(ctx context.Context, t *Task) error {
	sc, err := reads.Open(ctx, t.Path)
	if err != nil {
		return err
	}
	uniques, err := reads.Collapse(sc, w.opts.Trim)
	checksum := sc.Checksum()
	if cerr := sc.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return errors.E(err, "read", t.Path)
	}
	log.Printf("%s: %d reads, %d unique sequences", t.Path, uniques.Reads(), uniques.Len())
	sample, err := w.setupSample(ctx, t.Meta, store.FormatChecksum(checksum))
	if err != nil {
		return err
	}
	stats, err := w.IdentifySample(ctx, sample, uniques)
	if err != nil {
		return err
	}
	log.Printf("%s: sample %s identified: %d sequences, %d no-results, %d dropped",
		t.Path, sample.Name, stats.SequenceCount, stats.NoResultCount, stats.Dropped)
	return nil
}

// setupSample gets or creates the sample's study, subject and sample rows.
func (w *IdentificationWorker) setupSample(ctx context.Context, meta SampleMetadata, checksum string) (*store.Sample, error) {
	w.setupMu.Lock()
	defer w.setupMu.Unlock()
	study, _, err := w.session.GetOrCreateStudy(ctx, meta.StudyName)
	if err != nil {
		return nil, err
	}
	sample, created, err := w.session.GetOrCreateSample(ctx, study, meta.SampleName)
	if err != nil {
		return nil, err
	}
	if created {
		subject, _, err := w.session.GetOrCreateSubject(ctx, study, meta.Subject)
		if err != nil {
			return nil, err
		}
		sample.SubjectID = sql.NullInt64{Int64: subject.ID, Valid: true}
		sample.Date = meta.Date
		sample.Subset = meta.Subset
		sample.Tissue = meta.Tissue
		sample.Disease = meta.Disease
		sample.Lab = meta.Lab
		sample.Experimenter = meta.Experimenter
		sample.IgClass = meta.IgClass
		sample.VPrimer = meta.VPrimer
		sample.JPrimer = meta.JPrimer
		sample.Paired = meta.IsPaired()
	}
	sample.InputChecksum = checksum
	sample.RunID = w.runID
	w.session.Add(sample)
	if err := w.session.Commit(ctx); err != nil {
		return nil, err
	}
	return sample, nil
}

// SampleResult summarizes one identified sample.
type SampleResult struct {
	store.SampleStats
	// Dropped counts reads lost to unexpected processing errors. They are
	// recorded neither as sequences nor as no-results.
	Dropped int
}

// IdentifySample aligns every unique read of a sample, in order, committing
// periodically, then stores the collapsed sequences, the sample statistics
// and the sample's identified status.
func (w *IdentificationWorker) IdentifySample(ctx context.Context, sample *store.Sample, uniques *reads.Uniques) (*SampleResult, error) {
	res := &SampleResult{}
	uniqs := uniques.All()
	collapser := vdj.NewCollapser()
	err := PeriodicCommit(ctx, w.session, len(uniqs), w.opts.CommitInterval, func(i int) error {
		u := uniqs[i]
		o, err := w.align(u)
		if err != nil {
			perr := err.(*UnexpectedProcessingError)
			log.Error.Printf("sample %s: %v; dropping read\n%s", sample.Name, perr, perr.Stack)
			res.Dropped += u.Count()
			return nil
		}
		if !o.OK() {
			recs := make([]store.Record, 0, u.Count())
			for _, id := range u.IDs {
				recs = append(recs, &store.NoResult{SampleID: sample.ID, SeqID: id, Reason: o.Reason})
			}
			w.session.BulkAdd(recs)
			res.NoResultCount += u.Count()
			return nil
		}
		collapser.Add(o.Alignment)
		return nil
	})
	if err != nil {
		return nil, err
	}

	alns := vdj.CollapseAmbiguous(collapser.All())
	tally := mutations.NewTally()
	vLengths := make([]float64, 0, len(alns))
	mutFracs := make([]float64, 0, len(alns))
	for _, a := range alns {
		caller := mutations.NewCaller(a.Germline, a.CDR3Len(), nil, w.opts.Regions)
		muts := caller.AddSequence(a.SequenceReplaced)
		tally.Merge(caller.Aggregate())
		w.session.Add(sequenceRecord(sample.ID, a, len(muts)))
		recs := make([]store.Record, 0, len(a.IDs)-1)
		for _, id := range a.IDs[1:] {
			recs = append(recs, &store.DuplicateSequence{SampleID: sample.ID, SeqID: id, DuplicateSeqID: a.IDs[0]})
		}
		w.session.BulkAdd(recs)

		res.ValidCount += a.Count()
		if a.Functional {
			res.FunctionalCount++
		}
		if a.InFrame {
			res.InFrameCount++
		}
		if a.Stop {
			res.StopCount++
		}
		vLengths = append(vLengths, float64(a.VLength))
		mutFracs = append(mutFracs, a.MutationFraction)
	}
	res.SampleID = sample.ID
	res.Reads = uniques.Reads()
	res.SequenceCount = len(alns)
	if len(alns) > 0 {
		res.AvgVLength, res.StdDevVLength = stat.MeanStdDev(vLengths, nil)
		res.AvgMutationFrac = stat.Mean(mutFracs, nil)
	}
	if len(alns) < 2 {
		res.StdDevVLength = 0
	}
	data, err := json.Marshal(tally)
	if err != nil {
		return nil, err
	}
	res.Mutations = string(data)
	sample.Status = store.StatusIdentified
	w.session.Add(&res.SampleStats)
	w.session.Add(sample)
	if err := w.session.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// align aligns one read, converting a panic into an
// UnexpectedProcessingError.
func (w *IdentificationWorker) align(u *reads.UniqueRead) (o vdj.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if len(u.IDs) > 0 {
				id = u.IDs[0]
			}
			err = &UnexpectedProcessingError{ReadID: id, Err: r, Stack: string(debug.Stack())}
		}
	}()
	return w.aligner.Align(u), nil
}

func sequenceRecord(sampleID int64, a *vdj.Alignment, mutationCount int) *store.Sequence {
	return &store.Sequence{
		SampleID:         sampleID,
		SeqID:            a.IDs[0],
		Reversed:         a.Reversed,
		VGene:            a.VTie(),
		JGene:            a.JTie(),
		VLength:          a.VLength,
		VMatch:           a.VMatch,
		JLength:          a.JLength,
		JMatch:           a.JMatch,
		PreCDR3Length:    a.PreCDR3Length,
		PreCDR3Match:     a.PreCDR3Match,
		PostCDR3Length:   a.PostCDR3Length,
		PostCDR3Match:    a.PostCDR3Match,
		PadLength:        a.PadLength,
		NumGaps:          a.NumGaps,
		InFrame:          a.InFrame,
		Functional:       a.Functional,
		Stop:             a.Stop,
		CopyNumber:       a.Count(),
		CDR3NumNTs:       a.CDR3Len(),
		CDR3NT:           a.CDR3NT,
		CDR3AA:           a.CDR3AA,
		Sequence:         a.Sequence,
		SequenceReplaced: a.SequenceReplaced,
		Germline:         a.Germline,
		Quality:          store.EncodeQuality(a.Quality),
		MutationFraction: a.MutationFraction,
		MutationCount:    mutationCount,
	}
}
