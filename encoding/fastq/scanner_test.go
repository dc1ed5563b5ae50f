package fastq

import (
	"strings"
	"testing"
)

const fq = `@M01234:12:000000000-A1B2C:1:1101:15589:1331 1:N:0:1
GAGGTGCAGCTGGTGGAGTCTGGGGGAGGCTTGGTACAGCCTGGGGGG
+
CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG

@M01234:12:000000000-A1B2C:1:1101:16273:1339 1:N:0:1
CAGGTNCAGCTGGTGCAGTCTGGGGCTGAG
+
CCCCC#GGGGGGGGGGGGGGGGGGGGGGGG
`

func scanAll(s string) ([]Read, error) {
	scan := NewScanner(strings.NewReader(s))
	var (
		reads []Read
		r     Read
	)
	for scan.Scan(&r) {
		reads = append(reads, r)
	}
	return reads, scan.Err()
}

func TestFASTQ(t *testing.T) {
	reads, err := scanAll(fq)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(reads), 2; got != want {
		t.Fatalf("got %v reads, want %v", got, want)
	}
	expect := Read{
		ID:   "M01234:12:000000000-A1B2C:1:1101:16273:1339 1:N:0:1",
		Seq:  "CAGGTNCAGCTGGTGCAGTCTGGGGCTGAG",
		Qual: "CCCCC#GGGGGGGGGGGGGGGGGGGGGGGG",
	}
	if got, want := reads[1], expect; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	q := reads[1].Phred()
	if got, want := q[0], 34; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := q[5], 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInvalid(t *testing.T) {
	for _, c := range []struct {
		in   string
		want error
	}{
		{"@r1\nACGT\n+\nCCCC\n@r2\nAC\n", ErrShort},
		{"r1\nACGT\n+\nCCCC\n", ErrInvalid},
		{"@r1\nACGT\n-\nCCCC\n", ErrInvalid},
		{"@r1\nACGT\n+\nCCC\n", ErrQualLength},
	} {
		if _, err := scanAll(c.in); err != c.want {
			t.Errorf("%q: got %v, want %v", c.in, err, c.want)
		}
	}
}
