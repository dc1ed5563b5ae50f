// Package util contains nucleotide helpers shared by the germline index, the
// aligner and the mutation caller.
package util

import "strings"

// Gap is the gap/pad character used in aligned sequences.
const Gap = '-'

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	for _, p := range []string{"AT", "CG", "NN", "--", ".."} {
		complement[p[0]] = p[1]
		complement[p[1]] = p[0]
	}
	for _, p := range []string{"at", "cg"} {
		complement[p[0]] = p[1] - ('a' - 'A')
		complement[p[1]] = p[0] - ('a' - 'A')
	}
}

// ReverseComplement returns the reverse complement of seq. Characters other
// than ACGT, N and gaps become N.
func ReverseComplement(seq string) string {
	b := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		b[len(seq)-1-i] = complement[seq[i]]
	}
	return string(b)
}

// IsBase reports whether c is one of A, C, G, T.
func IsBase(c byte) bool {
	switch c {
	case 'A', 'C', 'G', 'T':
		return true
	}
	return false
}

// IsGap reports whether c is a gap character.
func IsGap(c byte) bool {
	return c == '-' || c == '.'
}

// OnlyBases reports whether seq consists of A, C, G, T only.
func OnlyBases(seq string) bool {
	for i := 0; i < len(seq); i++ {
		if !IsBase(seq[i]) {
			return false
		}
	}
	return true
}

// NormalizeGaps uppercases seq and rewrites '.' gaps as '-'.
func NormalizeGaps(seq string) string {
	return strings.Replace(strings.ToUpper(seq), ".", "-", -1)
}

var codonTable = map[string]byte{}

func init() {
	const (
		bases = "TCAG"
		aas   = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"
	)
	n := 0
	for _, a := range bases {
		for _, b := range bases {
			for _, c := range bases {
				codonTable[string([]rune{a, b, c})] = aas[n]
				n++
			}
		}
	}
}

// TranslateCodon returns the amino acid encoded by codon, '*' for a stop
// codon, or 'X' when the codon contains anything but ACGT.
func TranslateCodon(codon string) byte {
	if aa, ok := codonTable[codon]; ok {
		return aa
	}
	return 'X'
}

// Translate translates seq in frame 0. A trailing partial codon is ignored.
func Translate(seq string) string {
	aa := make([]byte, 0, len(seq)/3)
	for i := 0; i+3 <= len(seq); i += 3 {
		aa = append(aa, TranslateCodon(seq[i:i+3]))
	}
	return string(aa)
}

// HasStop reports whether seq, read in frame 0, contains a stop codon.
func HasStop(seq string) bool {
	return strings.IndexByte(Translate(seq), '*') >= 0
}
