// Package fasta contains code for parsing FASTA files. FASTA files consist of
// a number of named sequences that may be interrupted by newlines. For
// example:
//
// >IGHV1-2*02
// CAGGTGCAGCTGGTGCAGTCTGGG
// GCTGAGGTGAAGAAGCCTGGG
// >IGHJ4*02
// ACTACTTTGACTACTGGGGCCAGGGAACCCTGGTCACCGTCTCCTCAG
//
// The name of a record is the stretch of characters excluding spaces
// immediately after '>'; the description is the whole header line without the
// '>'. For example, '>read1 sample=A' has name 'read1' and description
// 'read1 sample=A'.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 // 1 MB
	maxLineSize    = 1024 * 1024 * 64
)

// Record is one named sequence.
type Record struct {
	// Name is the first whitespace-delimited token of the header.
	Name string
	// Description is the full header line without the leading '>'.
	Description string
	// Seq is the concatenation of all sequence lines of the record.
	Seq string
}

// Scanner reads FASTA records one at a time. Scanners are not threadsafe.
type Scanner struct {
	b       *bufio.Scanner
	err     error
	header  string // header of the record being assembled
	pending bool   // header is valid
	seq     strings.Builder
	done    bool
}

// NewScanner constructs a Scanner that reads raw FASTA data from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, bufferInitSize), maxLineSize)
	return &Scanner{b: b}
}

// Scan reads the next record into rec. It returns false at the end of the
// input or on error; the caller should then check Err.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil || s.done {
		return false
	}
	for s.b.Scan() {
		line := strings.TrimRight(s.b.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if s.pending {
				s.emit(rec)
				s.header = line[1:]
				return true
			}
			s.header = line[1:]
			s.pending = true
			continue
		}
		if !s.pending {
			s.err = errors.Errorf("malformed FASTA data: sequence line before header: %q", line)
			return false
		}
		s.seq.WriteString(strings.TrimSpace(line))
	}
	if err := s.b.Err(); err != nil {
		s.err = errors.Wrap(err, "couldn't read FASTA data")
		return false
	}
	s.done = true
	if !s.pending {
		return false
	}
	s.emit(rec)
	s.pending = false
	return true
}

func (s *Scanner) emit(rec *Record) {
	rec.Description = s.header
	rec.Name = s.header
	if i := strings.IndexAny(s.header, " \t"); i >= 0 {
		rec.Name = s.header[:i]
	}
	rec.Seq = s.seq.String()
	s.seq.Reset()
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	return s.err
}

// ReadAll reads every record from r, in order of appearance.
func ReadAll(r io.Reader) ([]Record, error) {
	var (
		recs []Record
		rec  Record
	)
	sc := NewScanner(r)
	for sc.Scan(&rec) {
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
