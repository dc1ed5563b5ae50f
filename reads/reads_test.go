package reads

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/testutil/h"
	"github.com/klauspost/pgzip"
)

func TestCollapse(t *testing.T) {
	in := []Read{
		{ID: "r1", Seq: "ACGTAC", Qual: []int{1, 2, 3, 4, 5, 6}},
		{ID: "r2", Seq: "GGGTAC", Qual: []int{9, 9, 9, 9, 9, 9}},
		{ID: "r3", Seq: "ACGGGG"},
		{ID: "r4", Seq: "ACGTAC", Qual: []int{7, 7, 7, 7, 7, 7}},
		{ID: "r5", Seq: "AC"},
	}
	u, err := Collapse(FromSlice(in), 2)
	assert.NoError(t, err)
	expect.EQ(t, u.Reads(), 5)
	expect.EQ(t, u.Len(), 3)

	all := u.All()
	expect.EQ(t, all[0].Seq, "GTAC")
	expect.That(t, all[0].IDs, h.ElementsAre("r1", "r2", "r4"))
	expect.EQ(t, all[0].Count(), 3)
	expect.EQ(t, all[0].Quality, []int{3, 4, 5, 6})
	expect.EQ(t, all[1].Seq, "GGGG")
	expect.EQ(t, all[2].Seq, "")

	r, ok := u.Get("GGGG")
	assert.True(t, ok)
	expect.That(t, r.IDs, h.ElementsAre("r3"))
	_, ok = u.Get("TTTT")
	expect.False(t, ok)

	total := 0
	for _, r := range all {
		total += r.Count()
	}
	expect.EQ(t, total, len(in))
}

func TestCollapseNoTrim(t *testing.T) {
	u, err := Collapse(FromSlice([]Read{{ID: "a", Seq: "ACGT"}, {ID: "b", Seq: "ACGA"}}), 0)
	assert.NoError(t, err)
	expect.EQ(t, u.Len(), 2)
}

const fq = "@r1 sample=a\nACNT\n+\nII#I\n@r2\nACNT\n+\nIIII\n"

func TestScannerFormats(t *testing.T) {
	sc := NewScanner(strings.NewReader(fq))
	u, err := Collapse(sc, 0)
	assert.NoError(t, err)
	assert.EQ(t, u.Len(), 1)
	expect.That(t, u.All()[0].IDs, h.ElementsAre("r1 sample=a", "r2"))
	expect.EQ(t, u.All()[0].Quality, []int{40, 40, 2, 40})

	sc = NewScanner(strings.NewReader(">r1 x\nac..\nGT\n>r2\nACGT\n"))
	var r Read
	assert.True(t, sc.Scan(&r))
	expect.EQ(t, r, Read{ID: "r1 x", Seq: "AC--GT"})
	assert.True(t, sc.Scan(&r))
	expect.False(t, sc.Scan(&r))
	expect.NoError(t, sc.Err())

	sc = NewScanner(strings.NewReader("ACGT\n"))
	expect.False(t, sc.Scan(&r))
	expect.True(t, sc.Err() != nil)
}

func TestOpenGzip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(fq))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	gzPath := filepath.Join(dir, "reads.fastq.gz")
	assert.NoError(t, ioutil.WriteFile(gzPath, buf.Bytes(), 0644))
	plainPath := filepath.Join(dir, "reads.fastq")
	assert.NoError(t, ioutil.WriteFile(plainPath, []byte(fq), 0644))

	ctx := context.Background()
	for _, path := range []string{gzPath, plainPath} {
		sc, err := Open(ctx, path)
		assert.NoError(t, err)
		u, err := Collapse(sc, 1)
		assert.NoError(t, err)
		expect.EQ(t, u.Reads(), 2)
		expect.EQ(t, u.All()[0].Seq, "CNT")
		assert.NoError(t, sc.Close())
	}

	// The checksum covers the raw file bytes, so it differs between the two.
	a, err := Open(ctx, gzPath)
	assert.NoError(t, err)
	_, err = Collapse(a, 0)
	assert.NoError(t, err)
	b, err := Open(ctx, plainPath)
	assert.NoError(t, err)
	_, err = Collapse(b, 0)
	assert.NoError(t, err)
	expect.True(t, a.Checksum() != b.Checksum())
	c := NewScanner(strings.NewReader(fq))
	_, err = Collapse(c, 0)
	assert.NoError(t, err)
	expect.EQ(t, b.Checksum(), c.Checksum())
	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())
}
