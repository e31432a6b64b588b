// cdrintel ingests call detail records, guards evidence, and reports on
// communication patterns and anomalies.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cdrintel", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("CDRINTEL_CONFIG"), "path to config file (.toml, .yaml, .json)")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return 2
	}

	c := &cli{configPath: *configPath, stdout: stdout, stderr: stderr}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	var err error
	switch cmd {
	case "serve":
		err = c.serve(rest)
	case "upload":
		err = c.upload(rest)
	case "analyze":
		err = c.analyze(rest)
	case "audit":
		err = c.auditList(rest)
	case "verify":
		err = c.verify(rest)
	case "help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `cdrintel - call detail record intelligence

Usage: cdrintel [options] <command> [args]

Commands:
  serve                       Run the HTTP service
  upload [flags] <file>...    Accept files as evidence for a case
  analyze [flags] [file]...   Ingest files (or a case's evidence) and report
  audit [flags]               List audit entries
  verify <evidence-id>...     Check stored evidence against its fingerprint
  help                        Show this help message

Options:
  -config <path>  Path to config file (default: $CDRINTEL_CONFIG)`)
}
