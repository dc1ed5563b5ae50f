package fasta_test

import (
	"strings"
	"testing"

	"github.com/grailbio/immune/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const fastaData = ">IGHJ1*01 F\n" +
	"GCTGAATACTTCCAGCACTGGGGCCAG\n" +
	"GGCACCCTGGTCACCGTCTCCTCAG\n" +
	"\n" +
	">IGHJ2*01\r\n" +
	"CTACTGGTACTTCGATCTCTGGGGCCGTGGCACCCTGGTCACTGTCTCCTCAG\r\n"

func TestReadAll(t *testing.T) {
	recs, err := fasta.ReadAll(strings.NewReader(fastaData))
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 2)
	expect.EQ(t, recs[0].Name, "IGHJ1*01")
	expect.EQ(t, recs[0].Description, "IGHJ1*01 F")
	expect.EQ(t, recs[0].Seq, "GCTGAATACTTCCAGCACTGGGGCCAGGGCACCCTGGTCACCGTCTCCTCAG")
	expect.EQ(t, recs[1].Name, "IGHJ2*01")
	expect.EQ(t, recs[1].Seq, "CTACTGGTACTTCGATCTCTGGGGCCGTGGCACCCTGGTCACTGTCTCCTCAG")
}

func TestScannerEmpty(t *testing.T) {
	recs, err := fasta.ReadAll(strings.NewReader(""))
	assert.NoError(t, err)
	expect.EQ(t, len(recs), 0)
}

func TestScannerEmptyRecord(t *testing.T) {
	recs, err := fasta.ReadAll(strings.NewReader(">a\n>b\nAC\n"))
	assert.NoError(t, err)
	assert.EQ(t, len(recs), 2)
	expect.EQ(t, recs[0].Seq, "")
	expect.EQ(t, recs[1].Seq, "AC")
}

func TestScannerMalformed(t *testing.T) {
	_, err := fasta.ReadAll(strings.NewReader("ACGT\n>a\nAC\n"))
	expect.True(t, err != nil)
}
