package cover

import (
	"fmt"
	"sort"
	"strings"
)

// Edge is one observed basic-block transition.
type Edge struct {
	From uint32
	To   uint32
}

// FunctionCoverage is the recorded set for one instrumented function.
type FunctionCoverage struct {
	// Index is the function's position in the module function space.
	Index uint32

	// Name is the function's debug name, "" when the module has none.
	Name string

	// Sites is the number of probe sites the function carries:
	// instructions in offsets mode, basic blocks in edges mode.
	Sites int

	// Covered is the number of distinct sites that executed.
	Covered int

	// Hits maps each executed site id to its execution count.
	Hits map[uint32]uint64

	// Edges maps observed block transitions to counts. Nil outside
	// edges mode.
	Edges map[Edge]uint64
}

// Percent returns covered sites as a percentage of all sites.
func (f *FunctionCoverage) Percent() float64 {
	if f.Sites == 0 {
		return 0
	}
	return 100 * float64(f.Covered) / float64(f.Sites)
}

// Report is a point-in-time snapshot of recorded coverage.
type Report struct {
	Mode      Mode
	Functions []FunctionCoverage
}

// Report snapshots recorded coverage, ordered by function index. The
// snapshot is independent of later execution.
func (c *Coverage) Report() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := &Report{Mode: c.mode, Functions: make([]FunctionCoverage, 0, len(c.fns))}
	for idx, rec := range c.fns {
		fc := FunctionCoverage{
			Index:   idx,
			Name:    rec.name,
			Sites:   rec.sites,
			Covered: len(rec.hits),
			Hits:    make(map[uint32]uint64, len(rec.hits)),
		}
		for id, n := range rec.hits {
			fc.Hits[id] = n
		}
		if c.mode == ModeEdges {
			fc.Edges = make(map[Edge]uint64, len(rec.edges))
			for e, n := range rec.edges {
				fc.Edges[e] = n
			}
		}
		r.Functions = append(r.Functions, fc)
	}
	sort.Slice(r.Functions, func(i, j int) bool {
		return r.Functions[i].Index < r.Functions[j].Index
	})
	return r
}

// String renders a plain-text summary with one line per function and a
// total line.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "coverage (%s)\n", r.Mode)

	var sites, covered int
	for i := range r.Functions {
		f := &r.Functions[i]
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("func[%d]", f.Index)
		}
		fmt.Fprintf(&b, "  %-24s %5d/%-5d %6.1f%%\n", name, f.Covered, f.Sites, f.Percent())
		sites += f.Sites
		covered += f.Covered
	}

	pct := 0.0
	if sites > 0 {
		pct = 100 * float64(covered) / float64(sites)
	}
	fmt.Fprintf(&b, "  %-24s %5d/%-5d %6.1f%%\n", "total", covered, sites, pct)
	return b.String()
}
