// cmd/ebpfverify/main.go
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ebpfverify/internal/ebpf"
	"ebpfverify/internal/elfload"
	"ebpfverify/internal/history"
	"ebpfverify/internal/inspector"
	"ebpfverify/internal/progress"
	"ebpfverify/internal/vdiag"
	"ebpfverify/internal/verifier"
)

const version = "0.1.0"

// commandAliases resolves a single letter (or short word) to the canonical
// command name before dispatch.
var commandAliases = map[string]string{
	"c":   "check",
	"d":   "disasm",
	"hi":  "history",
	"s":   "serve",
	"dbg": "debug",
	"v":   "version",
	"h":   "help",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}
	rest := args[1:]

	switch cmd {
	case "help", "--help", "-h":
		showUsage()
	case "version", "--version", "-v":
		fmt.Printf("ebpfverify %s\n", version)
	case "check":
		runCheck(rest)
	case "disasm":
		runDisasm(rest)
	case "history":
		runHistory(rest)
	case "serve":
		runServe(rest)
	case "debug":
		runDebug(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`ebpfverify - static verifier for eBPF object files

Usage:
  ebpfverify check <file.o> [-stats] [-history dsn] [-progress addr]
  ebpfverify disasm <file.o>
  ebpfverify history [-db dsn] [-n count]
  ebpfverify serve [-addr addr]
  ebpfverify debug <file.o> [-section name]
  ebpfverify version
  ebpfverify help

Command aliases: c=check d=disasm hi=history s=serve dbg=debug v=version h=help`)
}

func loadObject(path string) (*elfload.Object, []byte) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("ebpfverify: read %s: %v", path, err)
	}
	obj, err := elfload.Load(raw)
	if err != nil {
		log.Fatalf("ebpfverify: %v", err)
	}
	return obj, raw
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	stats := fs.Bool("stats", false, "print a final pass/fail summary count")
	dsn := fs.String("history", "", "history DSN (scheme://path), e.g. sqlite://runs.db")
	progressAddr := fs.String("progress", "", "if set, stream per-section progress (start, finish, done) over a WebSocket at this address")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("ebpfverify check: missing object file argument")
	}
	path := fs.Arg(0)

	obj, raw := loadObject(path)
	color := inspector.ColorEnabled(os.Stdout)
	inspector.PrintObjectSummary(os.Stdout, path, int64(len(raw)), obj)

	opts := verifier.Options{}
	var srv *progress.Server
	if *progressAddr != "" {
		srv = progress.NewServer(*progressAddr)
		srv.Start()
		fmt.Printf("streaming progress on ws://%s/progress\n", srv.Addr())
	}

	runID := objectRunID(raw)
	started := time.Now()
	var results []verifier.SectionResult
	if srv != nil {
		onProgress, done := srv.Hook(runID)
		opts.OnProgress = onProgress
		results = verifier.VerifyObject(context.Background(), obj, opts)
		for _, r := range results {
			done(r.Section)
		}
		srv.Shutdown(context.Background())
	} else {
		results = verifier.VerifyObject(context.Background(), obj, opts)
	}

	passed, failed := 0, 0
	for _, r := range results {
		inspector.PrintVerdictLine(os.Stdout, r, color)
		if r.Verdict == verifier.Accept {
			passed++
		} else {
			failed++
		}
	}
	if *stats {
		fmt.Printf("\n%d passed, %d failed, analyzed in %s\n", passed, failed, time.Since(started))
	}

	if *dsn != "" {
		recordHistory(*dsn, path, raw, results, time.Since(started))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func objectRunID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func recordHistory(dsn, path string, raw []byte, results []verifier.SectionResult, dur time.Duration) {
	scheme, dsnRest := splitDSN(dsn)
	store, err := history.Open(scheme, dsnRest)
	if err != nil {
		log.Printf("ebpfverify: history store unavailable: %v", err)
		return
	}
	defer store.Close()

	verdict := history.VerdictAccept
	for _, r := range results {
		if r.Verdict != verifier.Accept {
			verdict = history.VerdictReject
			break
		}
	}

	sum := sha256.Sum256(raw)
	run := history.Run{
		ObjectHash:  hex.EncodeToString(sum[:]),
		ObjectPath:  path,
		Verdict:     verdict,
		Diagnostics: flattenDiagnostics(results),
		Duration:    dur,
		StartedAt:   time.Now().Add(-dur),
	}
	id, err := store.Record(context.Background(), run)
	if err != nil {
		log.Printf("ebpfverify: recording history: %v", err)
		return
	}
	fmt.Printf("recorded run %s\n", id)
}

func flattenDiagnostics(results []verifier.SectionResult) []vdiag.Diagnostic {
	var out []vdiag.Diagnostic
	for _, r := range results {
		out = append(out, r.Diagnostics...)
	}
	return out
}

func splitDSN(dsn string) (scheme, rest string) {
	for i := 0; i+2 < len(dsn); i++ {
		if dsn[i] == ':' && dsn[i+1] == '/' && dsn[i+2] == '/' {
			return dsn[:i], dsn[i+3:]
		}
	}
	return "", dsn
}

func runDisasm(args []string) {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("ebpfverify disasm: missing object file argument")
	}
	obj, _ := loadObject(fs.Arg(0))
	fmt.Printf("license %q\n", obj.License)
	inspector.PrintMaps(os.Stdout, obj.Maps)
	for _, prog := range obj.Programs {
		fmt.Printf("section %s:\n", prog.Section)
		insns, err := ebpf.Decode(prog.Raw)
		if err != nil {
			fmt.Printf("  decode error: %v\n", err)
			continue
		}
		for i, insn := range insns {
			fmt.Printf("  %4d: %s\n", i, insn.String())
		}
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dsn := fs.String("db", "sqlite://ebpfverify_history.db", "history DSN")
	n := fs.Int("n", 20, "number of recent runs to show")
	fs.Parse(args)

	scheme, rest := splitDSN(*dsn)
	store, err := history.Open(scheme, rest)
	if err != nil {
		log.Fatalf("ebpfverify: %v", err)
	}
	defer store.Close()

	runs, err := store.Recent(context.Background(), *n)
	if err != nil {
		log.Fatalf("ebpfverify: %v", err)
	}
	for _, r := range runs {
		fmt.Printf("%s  %-8s  %-40s  %s  %s\n", r.ID, r.Verdict, r.ObjectPath, r.StartedAt.Format(time.RFC3339), r.Duration)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8787", "listen address for the progress WebSocket endpoint")
	fs.Parse(args)

	srv := progress.NewServer(*addr)
	srv.Start()
	fmt.Printf("ebpfverify progress server listening on ws://%s/progress (Ctrl+C to stop)\n", srv.Addr())
	select {}
}

func runDebug(args []string) {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	section := fs.String("section", "", "only dump the named program section (default: every section)")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("ebpfverify debug: missing object file argument")
	}
	obj, _ := loadObject(fs.Arg(0))

	opts := verifier.Options{KeepStates: true}
	results := verifier.VerifyObject(context.Background(), obj, opts)
	for _, r := range results {
		if *section != "" && r.Section != *section {
			continue
		}
		fmt.Printf("=== %s (%s) ===\n", r.Section, r.Verdict)
		if r.Graph != nil && r.FinalStates != nil {
			inspector.DumpStates(os.Stdout, r.Graph, r.FinalStates)
		}
		if *section != "" {
			return
		}
	}
}
