package reads

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/unsafe"
	"github.com/minio/highwayhash"
)

// UniqueRead is a distinct sequence together with the IDs of every input read
// that carried it, in input order. Quality is that of the first read.
type UniqueRead struct {
	Seq     string
	IDs     []string
	Quality []int
}

// Count is the number of input reads collapsed into u.
func (u *UniqueRead) Count() int { return len(u.IDs) }

type hashKey = [highwayhash.Size]uint8

var zeroSeed = hashKey{}

func seqKey(seq string) hashKey {
	return highwayhash.Sum(unsafe.StringToBytes(seq), zeroSeed[:])
}

// Uniques is the result of Collapse.
type Uniques struct {
	byKey map[hashKey]*UniqueRead
	order []*UniqueRead
	reads int
}

// All returns the unique reads in order of first appearance.
func (u *Uniques) All() []*UniqueRead { return u.order }

// Len returns the number of unique reads.
func (u *Uniques) Len() int { return len(u.order) }

// Reads returns the number of input reads.
func (u *Uniques) Reads() int { return u.reads }

// Get looks up a unique read by sequence.
func (u *Uniques) Get(seq string) (*UniqueRead, bool) {
	r, ok := u.byKey[seqKey(seq)]
	return r, ok
}

// Collapse removes the first trim bases of every read and groups the reads by
// the remaining sequence. The sum of the unique reads' counts equals the
// number of input reads.
func Collapse(it Iterator, trim int) (*Uniques, error) {
	u := &Uniques{byKey: make(map[hashKey]*UniqueRead)}
	var r Read
	for it.Scan(&r) {
		seq, qual := r.Seq, r.Qual
		if trim > 0 {
			seq = seq[min(trim, len(seq)):]
			if qual != nil {
				qual = qual[min(trim, len(qual)):]
			}
		}
		u.reads++
		k := seqKey(seq)
		if prev, ok := u.byKey[k]; ok {
			if prev.Seq != seq {
				log.Panicf("highwayhash collision: %s, %s", prev.Seq, seq)
			}
			prev.IDs = append(prev.IDs, r.ID)
			continue
		}
		ur := &UniqueRead{Seq: seq, IDs: []string{r.ID}, Quality: qual}
		u.byKey[k] = ur
		u.order = append(u.order, ur)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return u, nil
}
