// Package reads ingests sequencing reads from FASTA or FASTQ files and
// collapses identical sequences into unique reads.
package reads

import (
	"bufio"
	"context"
	"hash"
	"io"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/immune/encoding/fasta"
	"github.com/grailbio/immune/encoding/fastq"
	"github.com/grailbio/immune/util"
	"github.com/klauspost/pgzip"
)

// A Read is one input read. Qual holds phred scores, or nil when the input
// carries no qualities.
type Read struct {
	ID   string
	Seq  string
	Qual []int
}

// Iterator yields reads one at a time.
type Iterator interface {
	// Scan reads the next read into r. It returns false at the end of the
	// input or on error.
	Scan(r *Read) bool
	// Err returns the error that stopped Scan, if any.
	Err() error
}

// Scanner reads a FASTA or FASTQ stream. The format is detected from the
// first byte of the (decompressed) data.
type Scanner struct {
	fa    *fasta.Scanner
	fq    *fastq.Scanner
	sum   hash.Hash64
	err   error
	close func() error
}

// NewScanner creates a Scanner for uncompressed data.
func NewScanner(r io.Reader) *Scanner {
	s := &Scanner{sum: seahash.New()}
	s.init(io.TeeReader(r, s.sum))
	return s
}

func (s *Scanner) init(r io.Reader) {
	br := bufio.NewReaderSize(r, 1<<20)
	first, err := br.Peek(1)
	switch {
	case err == io.EOF:
		s.fa = fasta.NewScanner(br)
	case err != nil:
		s.err = err
	case first[0] == '@':
		s.fq = fastq.NewScanner(br)
	case first[0] == '>':
		s.fa = fasta.NewScanner(br)
	default:
		s.err = errors.E(errors.Invalid, "input is neither FASTA nor FASTQ")
	}
}

// Open opens a read file. Files ending in .gz are decompressed in parallel;
// other compression formats are recognised by their suffix.
func Open(ctx context.Context, path string) (*Scanner, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open reads", path)
	}
	s := &Scanner{sum: seahash.New()}
	var r io.Reader = io.TeeReader(in.Reader(ctx), s.sum)
	var closers []func() error
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			_ = in.Close(ctx)
			return nil, errors.E(err, "gunzip reads", path)
		}
		closers = append(closers, gz.Close)
		r = gz
	} else if u := compress.NewReaderPath(r, path); u != nil {
		closers = append(closers, u.Close)
		r = u
	}
	closers = append(closers, func() error { return in.Close(ctx) })
	s.close = func() error {
		var e errors.Once
		for _, c := range closers {
			e.Set(c())
		}
		return e.Err()
	}
	s.init(r)
	if s.err != nil {
		_ = s.close()
		return nil, errors.E(s.err, path)
	}
	return s, nil
}

// Scan implements Iterator.
func (s *Scanner) Scan(r *Read) bool {
	if s.err != nil {
		return false
	}
	if s.fq != nil {
		var fr fastq.Read
		if !s.fq.Scan(&fr) {
			s.err = s.fq.Err()
			return false
		}
		r.ID, r.Seq, r.Qual = fr.ID, normalize(fr.Seq), fr.Phred()
		return true
	}
	var rec fasta.Record
	if !s.fa.Scan(&rec) {
		s.err = s.fa.Err()
		return false
	}
	r.ID, r.Seq, r.Qual = rec.Description, normalize(rec.Seq), nil
	return true
}

func normalize(seq string) string {
	return util.NormalizeGaps(seq)
}

// Err implements Iterator.
func (s *Scanner) Err() error {
	return s.err
}

// Checksum returns the seahash of the raw bytes consumed so far. After the
// last Scan it covers the whole input file.
func (s *Scanner) Checksum() uint64 {
	return s.sum.Sum64()
}

// Close releases the underlying file.
func (s *Scanner) Close() error {
	if s.close == nil {
		return nil
	}
	err := s.close()
	s.close = nil
	return err
}

type sliceIterator struct {
	reads []Read
	i     int
}

// FromSlice returns an Iterator over reads.
func FromSlice(reads []Read) Iterator {
	return &sliceIterator{reads: reads}
}

func (it *sliceIterator) Scan(r *Read) bool {
	if it.i >= len(it.reads) {
		return false
	}
	*r = it.reads[it.i]
	it.i++
	return true
}

func (it *sliceIterator) Err() error { return nil }
