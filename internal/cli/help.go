package cli

import (
	"fmt"
	"io"

	"github.com/lydakis/sidecar/internal/paths"
)

func printRootHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  sidecar call <method> [JSON | --key=value ...] [FLAGS]")
	fmt.Fprintln(out, "  sidecar fire <method> [JSON | --key=value ...] [FLAGS]")
	fmt.Fprintln(out, "  sidecar events [--name <event> ...]")
	fmt.Fprintln(out, "  sidecar status")
	fmt.Fprintln(out, "  sidecar stop")
	fmt.Fprintln(out, "  sidecar init --command <program> [--arg <arg> ...]")
	fmt.Fprintln(out, "  sidecar mcp")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Config: %s\n", paths.ConfigFile())
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	fmt.Fprintln(out, "  --help, -h       Show help")
	fmt.Fprintln(out, "  --version, -V    Show version")
}

func printCallHelp(out io.Writer, cmd string) {
	fmt.Fprintf(out, "Usage: sidecar %s <method> [JSON | --key=value ...] [FLAGS]\n", cmd)
	fmt.Fprintln(out, "")
	if cmd == "fire" {
		fmt.Fprintln(out, "Start a long-running worker operation and print its acknowledgement.")
		fmt.Fprintln(out, "Follow its progress with `sidecar events`.")
	} else {
		fmt.Fprintln(out, "Call a worker method and print its result as JSON.")
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Params:")
	fmt.Fprintln(out, "  One positional JSON value, or --key=value flags building an object.")
	fmt.Fprintln(out, "  Repeated keys become arrays. Without either, JSON is read from a piped stdin.")
	fmt.Fprintln(out, "  Prefix params that collide with flags below with --param- (for example --param-verbose).")
	fmt.Fprintln(out, "  Use -- to treat every following flag as a param.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	if cmd == "call" {
		fmt.Fprintln(out, "  --cache <ttl>    Serve from cache for this long (e.g. 30s)")
		fmt.Fprintln(out, "  --no-cache       Bypass the cache")
	}
	fmt.Fprintln(out, "  --verbose, -v    Print cache details to stderr")
	fmt.Fprintln(out, "  --quiet, -q      Print nothing on failure")
	fmt.Fprintln(out, "  --help, -h       Show this help output")
}

func printEventsHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: sidecar events [--name <event> ...]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Stream worker events as JSON lines until interrupted or the worker exits.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	fmt.Fprintln(out, "  --name, -n <event>  Only print events with this name (repeatable)")
	fmt.Fprintln(out, "  --help, -h          Show this help output")
}

func printInitHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: sidecar init --command <program> [FLAGS]")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Write the worker section of %s.\n", paths.ConfigFile())
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	fmt.Fprintln(out, "  --command <program>    Worker executable (required)")
	fmt.Fprintln(out, "  --arg <arg>           Worker argument (repeatable)")
	fmt.Fprintln(out, "  --dir <path>          Worker working directory")
	fmt.Fprintln(out, "  --root-marker <file>  Run the worker in the nearest ancestor holding this file")
	fmt.Fprintln(out, "  --fire <method>       Route this method through fire (repeatable)")
	fmt.Fprintln(out, "  --force               Replace an existing worker section")
	fmt.Fprintln(out, "  --help, -h            Show this help output")
}
