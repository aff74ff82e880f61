// Package cli provides the command-line interface for stamping and signing
// PDF files.
package cli

import (
	"fmt"
	"os"
)

// Version information, set from ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

type command struct {
	name    string
	summary string
	run     func(args []string)
}

// commands in the order Usage lists them.
var commands = []command{
	{"sign", "Stamp and sign a PDF file", SignCommand},
	{"batch", "Sign several PDF files in parallel", BatchCommand},
	{"preview", "Render the signature stamp and report its placement", PreviewCommand},
	{"verify", "Check the integrity of the signatures in a PDF file", VerifyCommand},
	{"version", "Show version information", func([]string) { VersionCommand() }},
}

// Run executes the CLI with the given arguments.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	name := args[1]
	switch name {
	case "help", "-h", "--help":
		Usage()
		return
	}
	for _, c := range commands {
		if c.name == name {
			c.run(args)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	Usage()
	osExit(2)
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("imzala - PDF stamping and signing tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-8s %s\n", c.name, c.summary)
	}
	fmt.Printf("  %-8s %s\n", "help", "Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -config imzala.yaml sozlesme.pdf\n", os.Args[0])
	fmt.Printf("  %s batch -config imzala.yaml -multi-sig ~/Belgeler/gelen\n", os.Args[0])
	fmt.Printf("  %s preview -logo logo.png stamp.png\n", os.Args[0])
	fmt.Printf("  %s verify imzalananlar/sozlesme.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("imzala %s (built %s)\n", Version, BuildTime)
}
