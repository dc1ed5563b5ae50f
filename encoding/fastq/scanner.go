package fastq

import (
	"bufio"
	"errors"
	"io"
)

var (
	// ErrShort is returned when a truncated FASTQ file is encountered.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is returned when an invalid FASTQ file is encountered.
	ErrInvalid = errors.New("invalid FASTQ file")
	// ErrQualLength is returned when a read's quality string does not cover
	// its sequence.
	ErrQualLength = errors.New("FASTQ quality length differs from sequence length")
)

// PhredOffset is the ASCII offset of Sanger/Illumina 1.8+ quality strings.
const PhredOffset = 33

// A Read is a FASTQ read, comprising the header line without its '@', the
// sequence and the raw quality string.
type Read struct {
	ID, Seq, Qual string
}

// Phred decodes the read's quality string into per-base phred scores.
func (r *Read) Phred() []int {
	q := make([]int, len(r.Qual))
	for i := 0; i < len(r.Qual); i++ {
		q[i] = int(r.Qual[i]) - PhredOffset
	}
	return q
}

var errEOF = errors.New("eof")

// Scanner provides a convenient interface for reading FASTQ read data. The
// Scan method returns the next read, returning a boolean indicating whether
// the read succeeded. Scanners are not threadsafe.
//
// Scanner requires ID lines to begin with "@", line 3 to begin with "+", and
// the quality string to be as long as the sequence.
type Scanner struct {
	b   *bufio.Scanner
	err error
}

// NewScanner constructs a new Scanner that reads raw FASTQ data from the
// provided reader.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Scanner{b: b}
}

// Scan the next read into the provided read. Scan returns a boolean
// indicating whether the scan succeeded. Once Scan returns false, it never
// returns true again. Upon completion, the user should check the Err method
// to determine whether scanning stopped because of an error or because the
// end of the stream was reached.
func (f *Scanner) Scan(read *Read) bool {
	if f.err != nil {
		return false
	}
	// Tolerate blank lines between records.
	for {
		if !f.b.Scan() {
			if f.err = f.b.Err(); f.err == nil {
				f.err = errEOF
			}
			return false
		}
		if len(f.b.Bytes()) != 0 {
			break
		}
	}
	id := f.b.Bytes()
	if id[0] != '@' {
		f.err = ErrInvalid
		return false
	}
	read.ID = string(id[1:])
	if !f.scan() {
		return false
	}
	read.Seq = f.b.Text()
	if !f.scan() {
		return false
	}
	if unk := f.b.Bytes(); len(unk) == 0 || unk[0] != '+' {
		f.err = ErrInvalid
		return false
	}
	if !f.scan() {
		return false
	}
	read.Qual = f.b.Text()
	if len(read.Qual) != len(read.Seq) {
		f.err = ErrQualLength
		return false
	}
	return true
}

func (f *Scanner) scan() bool {
	ok := f.b.Scan()
	if !ok {
		if f.err = f.b.Err(); f.err == nil {
			f.err = ErrShort
		}
	}
	return ok
}

// Err returns the scanning error, if any.
func (f *Scanner) Err() error {
	if f.err == errEOF {
		return nil
	}
	return f.err
}
