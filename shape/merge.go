package shape

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SchemaReport describes attribute-schema compatibility across inputs.
type SchemaReport struct {
	Compatible bool   `json:"compatible"`
	Message    string `json:"message"`
	// Missing lists, per input position, the columns absent from that input
	// compared to the union of all inputs.
	Missing map[int][]string `json:"missing,omitempty"`
}

// CRSReport describes CRS compatibility across inputs.
type CRSReport struct {
	Compatible bool     `json:"compatible"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"`
}

// MergeOptions control reprojection and schema handling during a merge.
type MergeOptions struct {
	// TargetEPSG reprojects all inputs to this code before merging. When 0
	// and the inputs disagree, the first input's CRS is used.
	TargetEPSG int
	// Align adds missing attribute columns as nulls and sorts the column
	// union when schemas differ. Without it the output still carries the
	// column union, in first-seen order.
	Align bool
}

// MergeReport summarises a merge or append run.
type MergeReport struct {
	Inputs         int    `json:"inputs"`
	InputCounts    []int  `json:"input_counts"`
	OutputFeatures int    `json:"output_features"`
	CRS            string `json:"crs"`
	Reprojected    bool   `json:"reprojected"`
	Aligned        bool   `json:"aligned"`
}

// ValidateSchemaCompatibility checks whether all collections share the same
// attribute columns, ignoring order.
func ValidateSchemaCompatibility(inputs []*Collection) SchemaReport {
	if len(inputs) < 2 {
		return SchemaReport{Compatible: true, Message: "Only one collection provided"}
	}

	sets := make([]map[string]bool, len(inputs))
	for i, c := range inputs {
		sets[i] = make(map[string]bool, len(c.Columns))
		for _, col := range c.Columns {
			sets[i][col] = true
		}
	}

	allSame := true
	for _, s := range sets[1:] {
		if !sameColumnSet(sets[0], s) {
			allSame = false
			break
		}
	}
	if allSame {
		return SchemaReport{Compatible: true, Message: "All shapefiles have identical schemas"}
	}

	union := make(map[string]bool)
	for _, s := range sets {
		for col := range s {
			union[col] = true
		}
	}

	missing := make(map[int][]string)
	var parts []string
	for i, s := range sets {
		var m []string
		for col := range union {
			if !s[col] {
				m = append(m, col)
			}
		}
		if len(m) > 0 {
			sort.Strings(m)
			missing[i] = m
			parts = append(parts, fmt.Sprintf("Shapefile %d: %s", i+1, strings.Join(m, ", ")))
		}
	}

	return SchemaReport{
		Compatible: false,
		Message:    "Schemas differ. Missing columns: " + strings.Join(parts, "; "),
		Missing:    missing,
	}
}

func sameColumnSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for col := range a {
		if !b[col] {
			return false
		}
	}
	return true
}

// ValidateCRSCompatibility checks whether all collections share one CRS.
func ValidateCRSCompatibility(inputs []*Collection) CRSReport {
	if len(inputs) < 2 {
		return CRSReport{Compatible: true, Message: "Only one collection provided"}
	}

	details := make([]string, len(inputs))
	for i, c := range inputs {
		details[i] = fmt.Sprintf("Shapefile %d: %s", i+1, crsDescription(c.CRS))
	}

	for _, c := range inputs[1:] {
		if !crsEqual(inputs[0].CRS, c.CRS) {
			return CRSReport{Compatible: false, Message: "Shapefiles have different CRS", Details: details}
		}
	}
	return CRSReport{Compatible: true, Message: "All shapefiles have the same CRS", Details: details}
}

func crsDescription(c *CRSInfo) string {
	if c == nil {
		return "Unknown - no CRS defined"
	}
	epsg := "Unknown"
	if c.EPSG > 0 {
		epsg = fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	name := c.Name
	if name == "" {
		name = "Unknown"
	}
	return epsg + " - " + name
}

func crsEqual(a, b *CRSInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.EPSG > 0 && b.EPSG > 0 {
		return a.EPSG == b.EPSG
	}
	return a.WKT == b.WKT && a.Name == b.Name
}

func cloneCRS(c *CRSInfo) *CRSInfo {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// AlignSchemas returns copies of the collections sharing the sorted union
// of all attribute columns, with missing values filled as nulls. The
// inputs are not modified.
func AlignSchemas(inputs []*Collection) []*Collection {
	if len(inputs) < 2 {
		return inputs
	}

	union := make(map[string]bool)
	for _, c := range inputs {
		for _, col := range c.Columns {
			union[col] = true
		}
	}
	all := make([]string, 0, len(union))
	for col := range union {
		all = append(all, col)
	}
	sort.Strings(all)

	out := make([]*Collection, len(inputs))
	for i, c := range inputs {
		ac := c.Clone()
		ac.Columns = append([]string(nil), all...)
		for _, f := range ac.Features {
			for _, col := range all {
				if _, ok := f.Properties[col]; !ok {
					f.Properties[col] = nil
				}
			}
		}
		out[i] = ac
	}
	return out
}

// Merge concatenates two or more collections into one, preserving input
// order. When the inputs' CRSs differ, or a TargetEPSG is forced, every
// input is reprojected first; inputs without a known CRS make that step
// fail. The output takes the first input's CRS and encoding.
func Merge(inputs []*Collection, opts MergeOptions) (*Collection, *MergeReport, error) {
	if len(inputs) < 2 {
		return nil, nil, errors.New("at least two collections are required to merge")
	}

	crsRep := ValidateCRSCompatibility(inputs)
	work := inputs
	reprojected := false
	if !crsRep.Compatible || opts.TargetEPSG > 0 {
		target := opts.TargetEPSG
		if target == 0 {
			if inputs[0].CRS == nil || inputs[0].CRS.EPSG == 0 {
				return nil, nil, errors.New("first collection has no EPSG code to merge into")
			}
			target = inputs[0].CRS.EPSG
		}
		work = make([]*Collection, len(inputs))
		for i, c := range inputs {
			rc, err := Reproject(c, target)
			if err != nil {
				return nil, nil, fmt.Errorf("reproject input %d: %w", i+1, err)
			}
			work[i] = rc
		}
		reprojected = true
	}

	schemaRep := ValidateSchemaCompatibility(work)
	aligned := false
	if !schemaRep.Compatible && opts.Align {
		work = AlignSchemas(work)
		aligned = true
	}

	var columns []string
	seen := make(map[string]bool)
	for _, c := range work {
		for _, col := range c.Columns {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}

	out := NewCollection(columns)
	out.CRS = cloneCRS(work[0].CRS)
	out.Encoding = work[0].Encoding

	counts := make([]int, len(work))
	for i, c := range work {
		counts[i] = c.Len()
		for _, f := range c.Features {
			nf := f.Clone()
			for _, col := range columns {
				if _, ok := nf.Properties[col]; !ok {
					nf.Properties[col] = nil
				}
			}
			out.AddFeature(nf)
		}
	}

	rep := &MergeReport{
		Inputs:         len(work),
		InputCounts:    counts,
		OutputFeatures: out.Len(),
		CRS:            out.CRS.Label(),
		Reprojected:    reprojected,
		Aligned:        aligned,
	}
	return out, rep, nil
}

// Append combines exactly two collections, aligning schemas when they
// differ. It is the two-input convenience form of Merge.
func Append(first, second *Collection, targetEPSG int) (*Collection, *MergeReport, error) {
	return Merge([]*Collection{first, second}, MergeOptions{TargetEPSG: targetEPSG, Align: true})
}
