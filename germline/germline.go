// Package germline loads V and J germline reference sequences and builds the
// anchor indices the aligner uses to locate genes in reads.
//
// Germline sets are immutable once loaded and are shared read-only by every
// identification worker.
package germline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/immune/encoding/fasta"
	"github.com/grailbio/immune/util"
)

const (
	// VPrefix is the family prefix of heavy-chain V gene names.
	VPrefix = "IGHV"
	// JPrefix is the family prefix of heavy-chain J gene names.
	JPrefix = "IGHJ"
)

// ReferenceFormatError reports a germline reference that cannot be used.
type ReferenceFormatError struct {
	// Path is the reference file, if known.
	Path string
	// Gene is the offending record name.
	Gene string
	// Reason describes the problem.
	Reason string
}

func (e *ReferenceFormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("germline reference: %s: %s", e.Gene, e.Reason)
	}
	return fmt.Sprintf("germline reference %s: %s: %s", e.Path, e.Gene, e.Reason)
}

// Set maps gene names to germline sequences.
type Set struct {
	prefix    string
	names     []string
	seqs      map[string]string
	minLength int
}

// Parse reads a germline FASTA. Every record name must start with prefix.
// Sequences are uppercased. When gapped is true, '.' and '-' gap columns are
// kept (as '-'); records containing any other non-ACGT character are skipped.
func Parse(r io.Reader, prefix string, gapped bool) (*Set, error) {
	sc := fasta.NewScanner(r)
	s := &Set{prefix: prefix, seqs: make(map[string]string)}
	var rec fasta.Record
	for sc.Scan(&rec) {
		if !strings.HasPrefix(rec.Name, prefix) {
			return nil, &ReferenceFormatError{Gene: rec.Name, Reason: fmt.Sprintf("name does not start with %s", prefix)}
		}
		seq := strings.ToUpper(rec.Seq)
		if gapped {
			seq = util.NormalizeGaps(seq)
		}
		if !validGermline(seq, gapped) {
			log.Printf("germline: skipping %s: sequence has non-ACGT characters", rec.Name)
			continue
		}
		if _, ok := s.seqs[rec.Name]; ok {
			return nil, &ReferenceFormatError{Gene: rec.Name, Reason: "duplicate gene"}
		}
		s.seqs[rec.Name] = seq
		s.names = append(s.names, rec.Name)
		if s.minLength == 0 || len(seq) < s.minLength {
			s.minLength = len(seq)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(s.names) == 0 {
		return nil, &ReferenceFormatError{Gene: prefix, Reason: "no usable germline sequences"}
	}
	sort.Strings(s.names)
	return s, nil
}

func validGermline(seq string, gapped bool) bool {
	if len(seq) == 0 {
		return false
	}
	for i := 0; i < len(seq); i++ {
		if util.IsBase(seq[i]) || (gapped && seq[i] == util.Gap) {
			continue
		}
		return false
	}
	return true
}

// Load reads a germline FASTA from path. See Parse.
func Load(ctx context.Context, path, prefix string, gapped bool) (*Set, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open germlines", path)
	}
	s, err := Parse(in.Reader(ctx), prefix, gapped)
	if cerr := in.Close(ctx); err == nil && cerr != nil {
		err = errors.E(cerr, "close germlines", path)
	}
	if rerr, ok := err.(*ReferenceFormatError); ok {
		rerr.Path = path
		return nil, rerr
	}
	if err != nil {
		return nil, errors.E(err, "read germlines", path)
	}
	log.Printf("germline: loaded %d %s genes from %s (min length %d)", len(s.names), prefix, path, s.minLength)
	return s, nil
}

// Prefix returns the family prefix shared by every gene in the set.
func (s *Set) Prefix() string { return s.prefix }

// Names returns the gene names in sorted order.
func (s *Set) Names() []string { return s.names }

// Seq returns the germline sequence of gene.
func (s *Set) Seq(gene string) (string, bool) {
	seq, ok := s.seqs[gene]
	return seq, ok
}

// Len returns the number of genes.
func (s *Set) Len() int { return len(s.names) }

// MinLength returns the length of the shortest germline.
func (s *Set) MinLength() int { return s.minLength }

// TieName formats a tie-set as the family prefix followed by the sorted
// unique gene names, prefix removed, joined by '|'. For example,
// TieName("IGHV", {"IGHV3-23*01", "IGHV1-2*02"}, false) is
// "IGHV1-2*02|3-23*01". With stripAlleles, names are reduced to their gene
// before deduplication.
func TieName(prefix string, genes []string, stripAlleles bool) string {
	seen := make(map[string]bool, len(genes))
	var names []string
	for _, g := range genes {
		if stripAlleles {
			g = StripAllele(g)
		}
		n := strings.TrimPrefix(g, prefix)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return prefix + strings.Join(names, "|")
}

// StripAllele removes the "*NN" allele suffix from a gene name.
func StripAllele(gene string) string {
	if i := strings.IndexByte(gene, '*'); i >= 0 {
		return gene[:i]
	}
	return gene
}
