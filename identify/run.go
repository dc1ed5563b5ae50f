package identify

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/immune/germline"
	"github.com/grailbio/immune/mutations"
	"github.com/grailbio/immune/store"
	"github.com/grailbio/immune/vdj"
)

// ManifestName is the manifest looked up in every sample directory.
const ManifestName = "metadata.json"

// Opts configures an identification run.
type Opts struct {
	// Trim is the number of leading bases removed from every read.
	Trim int
	// CommitInterval is the number of unique reads aligned between commits.
	CommitInterval int
	// NProc bounds the number of workers.
	NProc int
	// WarnExisting skips samples that already have sequences instead of
	// failing the run.
	WarnExisting bool
	// Metadata overrides the manifest of every directory when set.
	Metadata string
	// VGermlines and JGermlines are the reference FASTA paths.
	VGermlines, JGermlines string
	// Regions are the ungapped widths of FR1, CDR1, FR2, CDR2 and FR3.
	Regions []int

	V     germline.VOpts
	J     germline.JOpts
	Align vdj.Opts
}

// DefaultOpts are the default identification options.
var DefaultOpts = Opts{
	Trim:           0,
	CommitInterval: 1000,
	NProc:          runtime.NumCPU(),
	Regions:        mutations.DefaultRegions,
	V:              germline.DefaultVOpts,
	J:              germline.DefaultJOpts,
	Align:          vdj.DefaultOpts,
}

// LoadAligner loads the V and J references named by opts and indexes them.
func LoadAligner(ctx context.Context, opts Opts) (*vdj.Aligner, error) {
	vset, err := germline.Load(ctx, opts.VGermlines, germline.VPrefix, true)
	if err != nil {
		return nil, err
	}
	jset, err := germline.Load(ctx, opts.JGermlines, germline.JPrefix, false)
	if err != nil {
		return nil, err
	}
	v, err := germline.NewVGermlines(vset, opts.V)
	if err != nil {
		return nil, errors.E(err, opts.VGermlines)
	}
	j, err := germline.NewJGermlines(jset, opts.J)
	if err != nil {
		return nil, errors.E(err, opts.JGermlines)
	}
	log.Printf("loaded %d V and %d J germlines", vset.Len(), jset.Len())
	return vdj.NewAligner(v, j, opts.Align), nil
}

// BuildQueue reads the manifest of every directory and queues one task per
// listed read file. A sample name listed twice in the run aborts with a
// *NamingCollisionError before anything is queued. Samples that already have
// sequences are skipped with a warning when opts.WarnExisting is set and
// otherwise fail the build with a *DuplicateSampleError once the directory
// has been scanned.
func BuildQueue(ctx context.Context, gw store.Gateway, dirs []string, opts Opts) (*TaskQueue, error) {
	var (
		tasks []*Task
		paths = make(map[string][]string)
	)
	for _, dir := range dirs {
		manifestPath := opts.Metadata
		if manifestPath == "" {
			manifestPath = filepath.Join(dir, ManifestName)
		}
		m, err := ReadManifest(ctx, manifestPath)
		if err != nil {
			return nil, err
		}
		for _, name := range m.Names() {
			meta, _ := m.Metadata(name)
			path := filepath.Join(dir, name)
			if err := meta.Validate(); err != nil {
				return nil, errors.E(err, path)
			}
			if _, err := file.Stat(ctx, path); err != nil {
				return nil, errors.E(err, "read file listed in", manifestPath)
			}
			paths[meta.SampleName] = append(paths[meta.SampleName], path)
			tasks = append(tasks, &Task{Path: path, Meta: meta})
		}
	}
	for _, t := range tasks {
		if p := paths[t.Meta.SampleName]; len(p) > 1 {
			return nil, &NamingCollisionError{Sample: t.Meta.SampleName, Paths: p}
		}
	}

	q := &TaskQueue{}
	var dup error
	for _, t := range tasks {
		exists, err := gw.SampleHasSequences(ctx, t.Meta.SampleName)
		if err != nil {
			return nil, err
		}
		if !exists {
			q.Add(t)
			continue
		}
		err = &DuplicateSampleError{Sample: t.Meta.SampleName, Path: t.Path}
		if opts.WarnExisting {
			log.Printf("warning: %v; skipping", err)
			continue
		}
		if dup == nil {
			dup = err
		}
	}
	if dup != nil {
		return nil, dup
	}
	return q, nil
}

type runInfo struct {
	Dirs []string `json:"dirs"`
	Opts Opts     `json:"opts"`
}

// Run identifies every sample listed in the manifests of dirs. It records
// the run in the modification log, builds the queue and processes it with
// min(opts.NProc, tasks) workers, each with its own session. It returns the
// tasks with their final states.
func Run(ctx context.Context, db *store.DB, dirs []string, opts Opts) ([]*Task, error) {
	setup, err := db.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer setup.Close() // nolint: errcheck

	runID := uuid.NewString()
	info, err := json.Marshal(runInfo{Dirs: dirs, Opts: opts})
	if err != nil {
		return nil, err
	}
	setup.Add(&store.ModificationLog{RunID: runID, ActionType: "identify", Info: string(info), Created: time.Now()})
	if err := setup.Commit(ctx); err != nil {
		return nil, err
	}
	aligner, err := LoadAligner(ctx, opts)
	if err != nil {
		return nil, err
	}
	q, err := BuildQueue(ctx, setup, dirs, opts)
	if err != nil {
		return nil, err
	}
	if q.Len() == 0 {
		log.Printf("run %s: nothing to identify", runID)
		return nil, nil
	}
	nproc := opts.NProc
	if nproc <= 0 || nproc > q.Len() {
		nproc = q.Len()
	}
	log.Printf("run %s: identifying %d samples with %d workers", runID, q.Len(), nproc)
	var (
		setupMu sync.Mutex
		workers = make([]Worker, 0, nproc)
	)
	for i := 0; i < nproc; i++ {
		session, err := db.NewSession(ctx)
		if err != nil {
			for _, w := range workers {
				_ = w.Cleanup()
			}
			return nil, err
		}
		workers = append(workers, NewIdentificationWorker(session, aligner, &setupMu, opts, runID))
	}
	err = q.Run(ctx, workers)
	return q.Tasks(), err
}
