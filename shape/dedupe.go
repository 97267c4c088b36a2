package shape

import (
	"fmt"
	"math"
	"sort"
)

// DedupeOptions are the thresholds and keep-strategy for duplicate removal.
//
// Two polygons are considered duplicates when their areas differ by at most
// AreaTolerancePct of the smaller area AND their exact intersection covers
// at least OverlapThresholdPct of the smaller area. With the defaults
// (tolerance 0, overlap 100) only complete containment of equal-area
// geometries qualifies.
type DedupeOptions struct {
	AreaTolerancePct    float64 // allowed percent area difference, 0 = exact
	OverlapThresholdPct float64 // required intersection/smaller-area percent
	KeepFirst           bool    // true keeps the earliest feature of a group
}

// DefaultDedupeOptions returns the strictest settings: exact area match,
// complete overlap, keep the first occurrence.
func DefaultDedupeOptions() DedupeOptions {
	return DedupeOptions{
		AreaTolerancePct:    0,
		OverlapThresholdPct: 100,
		KeepFirst:           true,
	}
}

func (o DedupeOptions) validate() error {
	if o.AreaTolerancePct < 0 || o.AreaTolerancePct > 100 {
		return &ConfigurationError{Param: "area_tolerance_pct", Value: o.AreaTolerancePct}
	}
	if o.OverlapThresholdPct < 0 || o.OverlapThresholdPct > 100 {
		return &ConfigurationError{Param: "overlap_threshold_pct", Value: o.OverlapThresholdPct}
	}
	return nil
}

// DedupeReport summarises one duplicate-removal run.
type DedupeReport struct {
	Total     int    `json:"total"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"remaining"`
	Groups    int    `json:"groups"`
	Details   string `json:"details"`
}

// DedupeResult is the full outcome of a run: the surviving collection, the
// report, and the group/removal breakdown the preview and history layers
// consume.
type DedupeResult struct {
	Collection *Collection
	Report     DedupeReport
	// Groups holds the recorded duplicate groups. Each group lists feature
	// indices of the input collection in ascending order, seed first.
	Groups [][]int
	// RemovedIndices lists the dropped input indices in ascending order.
	RemovedIndices []int
}

// Dedupe removes duplicate polygon geometries from the collection.
//
// The scan walks features in ascending index order. For each unconsumed
// feature it pulls bounding-box candidates from the spatial index and
// exact-checks every later, unconsumed candidate: pairs where either cached
// area is exactly zero never match; pairs whose areas differ by more than
// the tolerance are rejected; otherwise the exact intersection is computed
// and the candidate joins the group when its overlap of the smaller area
// reaches the threshold. An accepted candidate is consumed immediately, so
// it can neither seed nor join a later group. This makes grouping
// order-dependent: a chain where A matches B and B matches C collapses into
// one group seeded by A even if A and C would not match pairwise. That
// approximation is intentional and kept as-is; survivor selection depends
// on it.
//
// Groups need at least two members to be recorded. KeepFirst selects the
// lowest index of each group as its survivor, otherwise the highest index
// survives. The returned collection preserves input order and the kept
// features' geometry and attributes verbatim.
//
// The input collection is not modified. Errors: ConfigurationError for
// thresholds outside [0,100], ValidationError when a non-polygon geometry
// is present, GeometryError when GEOS fails on a feature or pair. All three
// abort the run with no partial output.
func Dedupe(c *Collection, opts DedupeOptions) (*DedupeResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := ValidatePolygonal(c); err != nil {
		return nil, err
	}

	n := c.Len()
	cache, err := newGeomCache(c)
	if err != nil {
		return nil, err
	}
	defer cache.destroy()

	idx := newBoundIndex(c)
	consumed := make([]bool, n)
	var groups [][]int

	for i := 0; i < n; i++ {
		if consumed[i] {
			continue
		}
		areaI := cache.areas[i]
		group := []int{i}

		for _, j := range idx.candidates(c.Features[i].Geometry.Bound()) {
			if j <= i || consumed[j] {
				continue
			}
			areaJ := cache.areas[j]
			if areaI == 0 || areaJ == 0 {
				continue
			}

			smaller := math.Min(areaI, areaJ)
			diffPct := math.Abs(areaI-areaJ) / smaller * 100
			if diffPct > opts.AreaTolerancePct {
				continue
			}

			interArea, empty, ierr := cache.overlapArea(i, j)
			if ierr != nil {
				return nil, &GeometryError{Index: i, OtherIndex: j, Op: "intersection", Err: ierr}
			}
			if empty {
				continue
			}

			if interArea/smaller*100 >= opts.OverlapThresholdPct {
				group = append(group, j)
				consumed[j] = true
			}
		}

		if len(group) > 1 {
			groups = append(groups, group)
		}
	}

	// Resolution: the removal set derives from the recorded groups, not the
	// scan's consumed set. Under keep-last the seed itself is removed and
	// the final member survives.
	removed := make(map[int]bool)
	for _, grp := range groups {
		if opts.KeepFirst {
			for _, m := range grp[1:] {
				removed[m] = true
			}
		} else {
			for _, m := range grp[:len(grp)-1] {
				removed[m] = true
			}
		}
	}

	survivors := NewCollection(c.Columns)
	survivors.CRS = c.CRS
	survivors.Encoding = c.Encoding
	for i, f := range c.Features {
		if !removed[i] {
			survivors.AddFeature(f)
		}
	}

	removedIndices := make([]int, 0, len(removed))
	for i := range removed {
		removedIndices = append(removedIndices, i)
	}
	sort.Ints(removedIndices)

	report := DedupeReport{
		Total:     n,
		Removed:   len(removed),
		Remaining: n - len(removed),
		Groups:    len(groups),
		Details:   fmt.Sprintf("Found %d duplicate group(s). Removed %d feature(s).", len(groups), len(removed)),
	}

	return &DedupeResult{
		Collection:     survivors,
		Report:         report,
		Groups:         groups,
		RemovedIndices: removedIndices,
	}, nil
}
