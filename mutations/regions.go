// Package mutations calls substitutions of aligned sequences against their
// germline and tallies them by region and by position.
package mutations

import "fmt"

// DefaultRegions holds the lengths of FR1, CDR1, FR2, CDR2 and FR3 in the
// IMGT-gapped V coordinate system. They add up to the CDR3 offset.
var DefaultRegions = []int{78, 36, 51, 30, 114}

// Insertion is an insertion of Size columns at Pos.
type Insertion struct {
	Pos, Size int
}

// Regions returns the region lengths after applying insertions. Each
// insertion widens the region that contains its position, which shifts every
// later boundary. base is not modified.
func Regions(insertions []Insertion, base []int) []int {
	if base == nil {
		base = DefaultRegions
	}
	regions := append([]int(nil), base...)
	for _, ins := range insertions {
		end := 0
		for i, l := range regions {
			end += l
			if ins.Pos < end {
				regions[i] += ins.Size
				break
			}
		}
	}
	return regions
}

// RegionAt labels the column pos: FR1, CDR1, FR2, CDR2, FR3 per regions, then
// CDR3 for cdr3Len columns, then FR4.
func RegionAt(regions []int, cdr3Len, pos int) string {
	end := 0
	for i, l := range regions {
		end += l
		if pos < end {
			if i%2 == 0 {
				return fmt.Sprintf("FR%d", i/2+1)
			}
			return fmt.Sprintf("CDR%d", i/2+1)
		}
	}
	if pos < end+cdr3Len {
		return "CDR3"
	}
	return "FR4"
}
