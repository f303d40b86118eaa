package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-engine/cover"
	"github.com/wippyai/wasm-engine/engine"
	"github.com/wippyai/wasm-engine/errors"
	"github.com/wippyai/wasm-engine/wasi"
	"github.com/wippyai/wasm-engine/wasm"
)

type options struct {
	wasmFile  string
	funcName  string
	funcArgs  string
	list      bool
	wasi      bool
	argv      string
	env       string
	stdinData string
	coverMode string
	coverOnly string
	coverSkip string
	steps     bool
	trace     bool
	timeout   time.Duration
	verbose   bool
}

func main() {
	var (
		o           options
		interactive bool
	)
	flag.StringVar(&o.wasmFile, "wasm", "", "Path to wasm module")
	flag.StringVar(&o.funcName, "func", "", "Function to call (optional)")
	flag.StringVar(&o.funcArgs, "args", "", "Comma-separated scalar arguments")
	flag.BoolVar(&o.list, "list", false, "List exported functions and exit")
	flag.BoolVar(&interactive, "i", false, "Interactive explorer")
	flag.BoolVar(&o.wasi, "wasi", false, "Provide wasi_snapshot_preview1 imports")
	flag.StringVar(&o.argv, "argv", "", "Guest arguments (comma-separated, first is argv[0])")
	flag.StringVar(&o.env, "env", "", "Guest environment (KEY=VAL,KEY2=VAL2)")
	flag.StringVar(&o.stdinData, "stdin", "", "Guest stdin data (default is the process stdin)")
	flag.StringVar(&o.coverMode, "cover", "", "Collect coverage: offsets or edges")
	flag.StringVar(&o.coverOnly, "cover-only", "", "Cover only functions matching these patterns (comma-separated, * wildcards)")
	flag.StringVar(&o.coverSkip, "cover-skip", "", "Skip functions matching these patterns")
	flag.BoolVar(&o.steps, "steps", false, "Count executed instructions per call")
	flag.BoolVar(&o.trace, "trace", false, "Print every executed instruction to stderr")
	flag.DurationVar(&o.timeout, "timeout", 0, "Abort execution after this duration")
	flag.BoolVar(&o.verbose, "v", false, "Verbose engine logging")
	flag.Parse()

	if o.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args a,b,...]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive explorer)")
		os.Exit(1)
	}

	// With no function named and a terminal on the other side, drop
	// into the explorer instead of guessing an entry point.
	if interactive || (o.funcName == "" && !o.list && term.IsTerminal(int(os.Stdout.Fd()))) {
		if err := runInteractive(o.wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	data, err := os.ReadFile(o.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	parsed, err := wasm.ParseModule(data)
	if err != nil {
		return fmt.Errorf("parse module: %w", err)
	}

	var cfg engine.Config
	if o.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer logger.Sync()
		cfg.Logger = logger
	}

	var (
		cov     *cover.Coverage
		counter *cover.Steps
	)
	switch {
	case o.coverMode != "":
		mode, err := parseCoverMode(o.coverMode)
		if err != nil {
			return err
		}
		cov = cover.New(cover.Config{
			Mode:     mode,
			OnlyList: matcherFromCSV(o.coverOnly),
			SkipList: matcherFromCSV(o.coverSkip),
		})
		cfg.Instrumenter = cov
	case o.steps:
		counter = cover.NewSteps()
		cfg.Instrumenter = counter
	}
	if o.trace {
		cfg.Tracer = printTracer{}
	}

	eng := engine.New(cfg)
	compiled, err := eng.Compile(parsed)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	exports := exportedFuncs(compiled)
	fmt.Printf("Module: %s\n", o.wasmFile)
	if name := compiled.Names().Module; name != "" {
		fmt.Printf("Name: %s\n", name)
	}
	fmt.Printf("Functions: %d\n", compiled.NumFunctions())

	fmt.Printf("\nExported functions:\n")
	for _, ex := range exports {
		fmt.Printf("  %s%s\n", ex.name, ex.typ)
	}
	if o.list {
		return nil
	}

	var (
		imports engine.ImportSet
		host    *wasi.Host
	)
	if o.wasi || importsWASI(parsed) {
		host = wasi.New(wasi.Config{
			Stdin:  stdinReader(o.stdinData),
			Stdout: os.Stdout,
			Stderr: os.Stderr,
			Args:   splitCSV(o.argv),
			Env:    splitCSV(o.env),
		})
		reg := engine.NewRegistry()
		host.Register(reg)
		imports = reg
	}

	inst, err := eng.Instantiate(ctx, compiled, imports)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	if host != nil {
		if mem := inst.Memory(); mem != nil {
			host.BindMemory(mem)
		}
	}

	name := o.funcName
	if name == "" {
		name = defaultEntry(exports)
		if name == "" {
			fmt.Printf("\nNo function specified and no conventional entry point found.\n")
			fmt.Printf("Use -func to pick one of the exports above.\n")
			return nil
		}
	}
	var typ *wasm.FuncType
	for _, ex := range exports {
		if ex.name == name {
			t := ex.typ
			typ = &t
			break
		}
	}
	if typ == nil {
		return fmt.Errorf("no exported function %q", name)
	}

	args, err := parseArgs(o.funcArgs, typ.Params)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s(%s)...\n", name, o.funcArgs)
	out, err := inst.Invoke(ctx, name, args...)
	if err != nil {
		var exit *errors.ExitError
		if stderrors.As(err, &exit) {
			fmt.Printf("Guest exited with code %d\n", exit.Code)
			printInstrumentation(cov, counter)
			if exit.Code != 0 {
				return fmt.Errorf("guest exited with code %d", exit.Code)
			}
			return nil
		}
		return fmt.Errorf("call %s: %w", name, err)
	}

	for _, v := range out {
		fmt.Printf("Result: %s\n", v)
	}
	printInstrumentation(cov, counter)
	return nil
}

func printInstrumentation(cov *cover.Coverage, counter *cover.Steps) {
	if cov != nil {
		fmt.Printf("\n%s", cov.Report())
	}
	if counter != nil {
		for i, n := range counter.Calls() {
			fmt.Printf("call %d: %d instructions\n", i, n)
		}
	}
}

// exportInfo is one function export with its resolved signature.
type exportInfo struct {
	name string
	typ  wasm.FuncType
}

func exportedFuncs(cm *engine.CompiledModule) []exportInfo {
	var out []exportInfo
	for _, ex := range cm.Exports() {
		if ex.Kind != wasm.KindFunc {
			continue
		}
		t := cm.FuncType(ex.Idx)
		if t == nil {
			continue
		}
		out = append(out, exportInfo{name: ex.Name, typ: *t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// defaultEntry picks the conventional entry point, or the sole export.
func defaultEntry(exports []exportInfo) string {
	for _, candidate := range []string{"_start", "run", "main"} {
		for _, ex := range exports {
			if ex.name == candidate {
				return candidate
			}
		}
	}
	if len(exports) == 1 {
		return exports[0].name
	}
	return ""
}

func parseArgs(csv string, params []wasm.ValType) ([]engine.Value, error) {
	var fields []string
	if csv != "" {
		fields = strings.Split(csv, ",")
	}
	if len(fields) != len(params) {
		return nil, fmt.Errorf("function takes %d arguments, got %d", len(params), len(fields))
	}
	args := make([]engine.Value, len(fields))
	for i, f := range fields {
		v, err := parseValue(strings.TrimSpace(f), params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// parseValue reads a scalar in the spelling of the target type. Integer
// arguments accept both signed and unsigned decimal plus 0x/0o/0b
// prefixes.
func parseValue(s string, t wasm.ValType) (engine.Value, error) {
	switch t {
	case wasm.ValI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return engine.I32(int32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return engine.Value{}, fmt.Errorf("parse %q as i32", s)
		}
		return engine.I32(int32(v)), nil
	case wasm.ValI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return engine.I64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return engine.Value{}, fmt.Errorf("parse %q as i64", s)
		}
		return engine.I64(int64(v)), nil
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return engine.Value{}, fmt.Errorf("parse %q as f32", s)
		}
		return engine.F32(float32(v)), nil
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.Value{}, fmt.Errorf("parse %q as f64", s)
		}
		return engine.F64(v), nil
	}
	return engine.Value{}, fmt.Errorf("unsupported parameter type %s", t)
}

func parseCoverMode(s string) (cover.Mode, error) {
	switch s {
	case "offsets":
		return cover.ModeOffsets, nil
	case "edges":
		return cover.ModeEdges, nil
	}
	return cover.ModeOffsets, fmt.Errorf("unknown coverage mode %q (want offsets or edges)", s)
}

func matcherFromCSV(s string) cover.Matcher {
	pats := splitCSV(s)
	if len(pats) == 0 {
		return nil
	}
	return cover.NewWildcardMatcher(pats)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func importsWASI(m *wasm.Module) bool {
	for _, imp := range m.Imports {
		if imp.Module == wasi.Module {
			return true
		}
	}
	return false
}

func stdinReader(data string) io.Reader {
	if data != "" {
		return strings.NewReader(data)
	}
	return os.Stdin
}

// printTracer writes one line per executed instruction and memory
// access.
type printTracer struct{}

func (printTracer) OnInstruction(funcIdx uint32, pc int, opcode byte) {
	fmt.Fprintf(os.Stderr, "trace: func[%d] pc=%d op=0x%02x\n", funcIdx, pc, opcode)
}

func (printTracer) OnMemoryAccess(a engine.MemoryAccess) {
	dir := "read"
	if a.Write {
		dir = "write"
	}
	fmt.Fprintf(os.Stderr, "trace: mem %s offset=%d len=%d\n", dir, a.Offset, a.Length)
}
