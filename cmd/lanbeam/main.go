package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sheerbytes/lanbeam/internal/cli/receiver"
	"github.com/sheerbytes/lanbeam/internal/cli/sender"
	"github.com/sheerbytes/lanbeam/internal/termio"
)

const (
	version = "v0.1.0"
	banner  = `lanbeam ` + version + `
Direct file transfer between devices on the same network.
`
)

func main() {
	termio.Init()
	termio.Exit(dispatch(os.Args[1:], termio.Stdout(), termio.Stderr()))
}

// dispatch routes to a subcommand. Subcommands exit the process themselves on
// failure; the returned code covers the top-level cases.
func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stdout, banner)
		printUsage(stderr)
		return 0
	}
	if hasVersionFlag(args[:1]) {
		fmt.Fprint(stdout, banner)
		return 0
	}

	switch args[0] {
	case "send":
		sender.Run(args[1:])
	case "receive", "recv":
		receiver.Run(args[1:])
	case "version":
		fmt.Fprint(stdout, banner)
	default:
		if hasHelpFlag(args[:1]) || args[0] == "help" {
			printUsage(stderr)
			return 0
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: lanbeam <command> [args]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  send     offer files to a device on the local network")
	fmt.Fprintln(w, "  receive  accept files from a sending device")
	fmt.Fprintln(w, "quick examples:")
	fmt.Fprintln(w, "  lanbeam send <file1> <file2>...")
	fmt.Fprintln(w, "  lanbeam receive --out ./downloads")
	fmt.Fprintln(w, "  lanbeam send --signal ws <file>      # receiver finds it over mDNS")
	fmt.Fprintln(w, "  lanbeam receive --signal ws")
	fmt.Fprintln(w, "to learn detailed usage:")
	fmt.Fprintln(w, "  lanbeam send --help")
	fmt.Fprintln(w, "  lanbeam receive --help")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
