package cover

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/wasm"
)

// namedDef is one declared, exported function with a debug name.
type namedDef struct {
	name    string
	params  []wasm.ValType
	results []wasm.ValType
	locals  []wasm.ValType
	body    []wasm.Instruction
}

// buildNamed assembles an import-free module whose functions carry
// debug names through an encoded name section.
func buildNamed(t *testing.T, fns ...namedDef) *wasm.Module {
	t.Helper()
	m := &wasm.Module{}
	names := wasm.NameMap{}
	for i, fn := range fns {
		typeIdx := m.AddType(wasm.FuncType{Params: fn.params, Results: fn.results})
		m.Funcs = append(m.Funcs, typeIdx)

		var locals []wasm.LocalEntry
		for _, lt := range fn.locals {
			if n := len(locals); n > 0 && locals[n-1].ValType == lt {
				locals[n-1].Count++
			} else {
				locals = append(locals, wasm.LocalEntry{Count: 1, ValType: lt})
			}
		}
		body := append(append([]wasm.Instruction{}, fn.body...), wasm.Instruction{Opcode: wasm.OpEnd})
		m.Code = append(m.Code, wasm.FuncBody{Locals: locals, Code: wasm.EncodeInstructions(body)})

		m.Exports = append(m.Exports, wasm.Export{Name: fn.name, Kind: wasm.KindFunc, Idx: uint32(i)})
		names[uint32(i)] = fn.name
	}
	m.CustomSections = append(m.CustomSections, wasm.CustomSection{
		Name: wasm.NameSectionName,
		Data: wasm.EncodeNames(&wasm.Names{Functions: names}),
	})
	return m
}

func instrumentedInstance(t *testing.T, m *wasm.Module, instr engine.Instrumenter) *engine.Instance {
	t.Helper()
	eng := engine.New(engine.Config{Instrumenter: instr})
	compiled, err := eng.Compile(m)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	inst, err := eng.Instantiate(context.Background(), compiled, nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return inst
}

func invoke(t *testing.T, inst *engine.Instance, name string, args ...engine.Value) []engine.Value {
	t.Helper()
	out, err := inst.Invoke(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("invoke %s: %v", name, err)
	}
	return out
}

func compiledFunc(t *testing.T, m *wasm.Module, idx uint32) *engine.CompiledFunction {
	t.Helper()
	compiled, err := engine.New(engine.Config{}).Compile(m)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := compiled.Function(idx)
	if f == nil {
		t.Fatalf("no declared function at index %d", idx)
	}
	return f
}

// absDef branches on the sign of its argument, giving two distinct
// paths through one function.
func absDef(name string) namedDef {
	return namedDef{
		name:    name,
		params:  []wasm.ValType{wasm.ValI32},
		results: []wasm.ValType{wasm.ValI32},
		body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			{Opcode: wasm.OpI32LtS},
			{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI32Sub},
			{Opcode: wasm.OpElse},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpEnd},
		},
	}
}

func TestFilterPass(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		only Matcher
		skip Matcher
		want bool
	}{
		{
			name: "no filters instrument everything",
			fn:   "fib",
			want: true,
		},
		{
			name: "unnamed function with no filters",
			fn:   "",
			want: true,
		},
		{
			name: "host ABI always excluded",
			fn:   "cabi_realloc",
			want: false,
		},
		{
			name: "host ABI wins over only list",
			fn:   "__wasm_call_ctors",
			only: NewNameMatcher([]string{"__wasm_call_ctors"}),
			want: false,
		},
		{
			name: "skip list excludes",
			fn:   "helper",
			skip: NewNameMatcher([]string{"helper"}),
			want: false,
		},
		{
			name: "only list restricts",
			fn:   "helper",
			only: NewNameMatcher([]string{"fib"}),
			want: false,
		},
		{
			name: "only list admits",
			fn:   "fib",
			only: NewNameMatcher([]string{"fib"}),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := covered(tt.fn, tt.only, tt.skip); got != tt.want {
				t.Errorf("covered(%q) = %v, want %v", tt.fn, got, tt.want)
			}
		})
	}
}

func TestSelectSites(t *testing.T) {
	f := compiledFunc(t, buildNamed(t, absDef("abs")), 0)

	t.Run("offsets cover every instruction", func(t *testing.T) {
		sites := selectSites(f, ModeOffsets)
		if len(sites) != len(f.Code) {
			t.Fatalf("len(sites) = %d, want %d", len(sites), len(f.Code))
		}
		for pc, s := range sites {
			if s.pc != pc || s.id != uint32(pc) {
				t.Errorf("sites[%d] = {pc %d, id %d}, want {pc %d, id %d}", pc, s.pc, s.id, pc, pc)
			}
		}
	})

	t.Run("edges cover block leaders", func(t *testing.T) {
		blocks := f.CFG().Blocks
		sites := selectSites(f, ModeEdges)
		if len(sites) != len(blocks) {
			t.Fatalf("len(sites) = %d, want %d blocks", len(sites), len(blocks))
		}
		for i, s := range sites {
			if s.pc != blocks[i].Start || s.id != blocks[i].ID {
				t.Errorf("sites[%d] = {pc %d, id %d}, want {pc %d, id %d}",
					i, s.pc, s.id, blocks[i].Start, blocks[i].ID)
			}
		}
	})
}

func TestWrapProbes(t *testing.T) {
	code := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 2}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
	}
	out := wrapProbes(code, []site{{pc: 1, id: 7}, {pc: 2, id: 9}})

	if len(out) != len(code) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(code))
	}
	for _, pc := range []int{0, 3} {
		if out[pc].Opcode != code[pc].Opcode {
			t.Errorf("slot %d rewritten: opcode %#x", pc, out[pc].Opcode)
		}
	}
	for pc, wantID := range map[int]uint32{1: 7, 2: 9} {
		if out[pc].Opcode != wasm.OpProbe {
			t.Fatalf("slot %d opcode = %#x, want probe", pc, out[pc].Opcode)
		}
		imm := out[pc].Imm.(wasm.ProbeImm)
		if imm.ID != wantID {
			t.Errorf("slot %d probe id = %d, want %d", pc, imm.ID, wantID)
		}
		if imm.Inner.Opcode != code[pc].Opcode {
			t.Errorf("slot %d wraps %#x, want %#x", pc, imm.Inner.Opcode, code[pc].Opcode)
		}
	}
}

func TestCoverage_Offsets(t *testing.T) {
	cov := New(Config{Mode: ModeOffsets})
	inst := instrumentedInstance(t, buildNamed(t, absDef("abs")), cov)

	if got := invoke(t, inst, "abs", engine.I32(5))[0].I32(); got != 5 {
		t.Fatalf("abs(5) = %d, want 5", got)
	}

	r := cov.Report()
	if len(r.Functions) != 1 {
		t.Fatalf("report has %d functions, want 1", len(r.Functions))
	}
	f := r.Functions[0]
	if f.Name != "abs" {
		t.Errorf("function name = %q, want %q", f.Name, "abs")
	}
	if f.Covered == 0 || f.Covered >= f.Sites {
		t.Errorf("one path covered %d/%d sites, want partial", f.Covered, f.Sites)
	}

	if got := invoke(t, inst, "abs", engine.I32(-5))[0].I32(); got != 5 {
		t.Fatalf("abs(-5) = %d, want 5", got)
	}

	f = cov.Report().Functions[0]
	if f.Covered != f.Sites {
		t.Errorf("both paths covered %d/%d sites, want full", f.Covered, f.Sites)
	}
	if f.Hits[0] != 2 {
		t.Errorf("entry instruction hits = %d, want 2", f.Hits[0])
	}
}

func TestCoverage_Edges(t *testing.T) {
	sel := namedDef{
		name:    "sel",
		params:  []wasm.ValType{wasm.ValI32},
		results: []wasm.ValType{wasm.ValI32},
		body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 10}},
			{Opcode: wasm.OpElse},
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 20}},
			{Opcode: wasm.OpEnd},
		},
	}
	// Blocks: 0 entry, 1 then arm, 2 else arm, 3 join.
	cov := New(Config{Mode: ModeEdges})
	inst := instrumentedInstance(t, buildNamed(t, sel), cov)

	if got := invoke(t, inst, "sel", engine.I32(1))[0].I32(); got != 10 {
		t.Fatalf("sel(1) = %d, want 10", got)
	}

	f := cov.Report().Functions[0]
	if f.Sites != 4 {
		t.Fatalf("sites = %d, want 4 blocks", f.Sites)
	}
	if f.Covered != 3 {
		t.Errorf("then path covered %d blocks, want 3", f.Covered)
	}
	if f.Edges[Edge{From: 0, To: 1}] != 1 || f.Edges[Edge{From: 1, To: 3}] != 1 {
		t.Errorf("then path edges = %v, want 0->1 and 1->3", f.Edges)
	}
	if _, ok := f.Edges[Edge{From: 0, To: 2}]; ok {
		t.Error("untaken else edge recorded")
	}

	if got := invoke(t, inst, "sel", engine.I32(0))[0].I32(); got != 20 {
		t.Fatalf("sel(0) = %d, want 20", got)
	}

	f = cov.Report().Functions[0]
	if f.Covered != 4 {
		t.Errorf("both paths covered %d blocks, want 4", f.Covered)
	}
	if f.Edges[Edge{From: 0, To: 2}] != 1 || f.Edges[Edge{From: 2, To: 3}] != 1 {
		t.Errorf("else path edges = %v, want 0->2 and 2->3", f.Edges)
	}
}

func TestCoverage_OnlyList(t *testing.T) {
	addBody := []wasm.Instruction{
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		{Opcode: wasm.OpI32Add},
	}
	m := buildNamed(t,
		namedDef{name: "tracked", params: []wasm.ValType{wasm.ValI32}, results: []wasm.ValType{wasm.ValI32}, body: addBody},
		namedDef{name: "ignored", params: []wasm.ValType{wasm.ValI32}, results: []wasm.ValType{wasm.ValI32}, body: addBody},
	)

	cov := New(Config{OnlyList: NewNameMatcher([]string{"tracked"})})
	inst := instrumentedInstance(t, m, cov)

	invoke(t, inst, "tracked", engine.I32(1))
	invoke(t, inst, "ignored", engine.I32(1))

	r := cov.Report()
	if len(r.Functions) != 1 {
		t.Fatalf("report has %d functions, want 1", len(r.Functions))
	}
	if r.Functions[0].Name != "tracked" {
		t.Errorf("reported function = %q, want %q", r.Functions[0].Name, "tracked")
	}
}

func TestCoverage_HostABIExcluded(t *testing.T) {
	m := buildNamed(t, namedDef{
		name:    "cabi_realloc",
		results: []wasm.ValType{wasm.ValI32},
		body:    []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}}},
	})

	cov := New(Config{OnlyList: NewWildcardMatcher([]string{"*"})})
	inst := instrumentedInstance(t, m, cov)
	invoke(t, inst, "cabi_realloc")

	if r := cov.Report(); len(r.Functions) != 0 {
		t.Errorf("host ABI function reported: %v", r.Functions)
	}
}

func TestCoverage_Reset(t *testing.T) {
	cov := New(Config{Mode: ModeOffsets})
	inst := instrumentedInstance(t, buildNamed(t, absDef("abs")), cov)

	invoke(t, inst, "abs", engine.I32(3))
	if f := cov.Report().Functions[0]; f.Covered == 0 {
		t.Fatal("nothing recorded before reset")
	}

	cov.Reset()

	f := cov.Report().Functions[0]
	if f.Covered != 0 || len(f.Hits) != 0 {
		t.Errorf("after reset covered = %d, hits = %v, want empty", f.Covered, f.Hits)
	}
	if f.Sites == 0 {
		t.Error("reset dropped site totals")
	}

	invoke(t, inst, "abs", engine.I32(3))
	if f := cov.Report().Functions[0]; f.Covered == 0 {
		t.Error("recording did not resume after reset")
	}
}

func TestCoverage_TransparentResults(t *testing.T) {
	plain := instrumentedInstance(t, buildNamed(t, absDef("abs")), nil)

	for _, mode := range []Mode{ModeOffsets, ModeEdges} {
		t.Run(mode.String(), func(t *testing.T) {
			inst := instrumentedInstance(t, buildNamed(t, absDef("abs")), New(Config{Mode: mode}))
			for _, in := range []int32{-100, -1, 0, 1, 100} {
				want := invoke(t, plain, "abs", engine.I32(in))[0].I32()
				got := invoke(t, inst, "abs", engine.I32(in))[0].I32()
				if got != want {
					t.Errorf("abs(%d) = %d under coverage, want %d", in, got, want)
				}
			}
		})
	}
}

func TestReportString(t *testing.T) {
	r := &Report{
		Mode: ModeOffsets,
		Functions: []FunctionCoverage{
			{Index: 0, Name: "fib", Sites: 10, Covered: 5},
			{Index: 3, Sites: 4, Covered: 4},
		},
	}

	s := r.String()
	for _, want := range []string{"coverage (offsets)", "fib", "5/10", "50.0%", "func[3]", "total", "9/14"} {
		if !strings.Contains(s, want) {
			t.Errorf("report %q missing %q", s, want)
		}
	}
}

// fibPair builds naive recursive and iterative Fibonacci over i64,
// computing the same function.
func fibPair(t *testing.T) *wasm.Module {
	t.Helper()
	naive := namedDef{
		name:    "naive",
		params:  []wasm.ValType{wasm.ValI64},
		results: []wasm.ValType{wasm.ValI64},
		body: []wasm.Instruction{
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 2}},
			{Opcode: wasm.OpI64LtS},
			{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI64}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpElse},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1}},
			{Opcode: wasm.OpI64Sub},
			{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 2}},
			{Opcode: wasm.OpI64Sub},
			{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
			{Opcode: wasm.OpI64Add},
			{Opcode: wasm.OpEnd},
		},
	}
	clever := namedDef{
		name:    "clever",
		params:  []wasm.ValType{wasm.ValI64},
		results: []wasm.ValType{wasm.ValI64},
		locals:  []wasm.ValType{wasm.ValI64, wasm.ValI64, wasm.ValI64},
		body: []wasm.Instruction{
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1}},
			{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: 2}},
			{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 0}},
			{Opcode: wasm.OpI64GtS},
			{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 2}},
			{Opcode: wasm.OpI64Add},
			{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: 3}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 2}},
			{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: 1}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 3}},
			{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: 2}},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1}},
			{Opcode: wasm.OpI64Sub},
			{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: 0}},
			{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 1}},
			{Opcode: wasm.OpEnd},
			{Opcode: wasm.OpEnd},
			{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
		},
	}
	return buildNamed(t, naive, clever)
}

func TestSteps_NaiveVersusClever(t *testing.T) {
	n := int64(30)
	if testing.Short() {
		n = 18
	}

	steps := NewSteps()
	inst := instrumentedInstance(t, fibPair(t), steps)

	naive := invoke(t, inst, "naive", engine.I64(n))[0].I64()
	clever := invoke(t, inst, "clever", engine.I64(n))[0].I64()
	if naive != clever {
		t.Fatalf("naive(%d) = %d, clever(%d) = %d, want equal", n, naive, n, clever)
	}

	calls := steps.Calls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[1]*10 >= calls[0] {
		t.Errorf("clever took %d steps, naive %d, want at least 10x fewer", calls[1], calls[0])
	}
}
