package shape

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// boundIndex is an R-tree over feature bounding boxes. It is a pre-filter:
// results may contain false positives that the caller must exact-check, but
// any pair of features whose geometries truly intersect is guaranteed to
// appear in each other's candidate sets. Built once per run, read-only
// afterwards.
type boundIndex struct {
	tree rtree.RTreeG[int]
}

// newBoundIndex indexes the bounding box of every feature in the
// collection. Features must all carry geometry; polygon tools validate this
// before building the index.
func newBoundIndex(c *Collection) *boundIndex {
	idx := &boundIndex{}
	for i, f := range c.Features {
		b := f.Geometry.Bound()
		idx.tree.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, i)
	}
	return idx
}

// candidates returns the indices of all features whose bounding box
// intersects b, sorted ascending. The underlying tree reports matches in an
// arbitrary order; sorting keeps the duplicate scan deterministic.
func (idx *boundIndex) candidates(b orb.Bound) []int {
	var out []int
	idx.tree.Search(
		[2]float64{b.Min[0], b.Min[1]},
		[2]float64{b.Max[0], b.Max[1]},
		func(min, max [2]float64, i int) bool {
			out = append(out, i)
			return true
		},
	)
	sort.Ints(out)
	return out
}
