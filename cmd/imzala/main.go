// Command imzala stamps PDF files with a signature block and signs them
// with a PKCS#11 token or a software credential.
//
// Usage:
//
//	imzala <command> [options] <args>
//
// Commands:
//
//	sign     Stamp and sign a PDF file
//	batch    Sign several PDF files in parallel
//	preview  Render the signature stamp and report its placement
//	verify   Check the integrity of the signatures in a PDF file
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign with the token described in imzala.yaml
//	imzala sign -config imzala.yaml sozlesme.pdf
//
//	# Sign a folder, leaving room for further signers
//	imzala batch -config imzala.yaml -multi-sig ~/Belgeler/gelen
//
//	# Check a signed copy
//	imzala verify imzalananlar/sozlesme.pdf
package main

import (
	"os"

	"github.com/imzaci/imzala/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/imzala
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
