package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pipeline"
)

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts CommonOptions
	opts.register(signFlags)

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.pdf> [output.pdf]\n\n", os.Args[0])
		fmt.Println("Stamp and sign a PDF file.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf   PDF file to sign")
		fmt.Println("  output.pdf  Signed copy; defaults to imzalananlar/<input name> next to the input")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -config imzala.yaml sozlesme.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -config imzala.yaml -reason \"Onay\" -scope first-page in.pdf out.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -config imzala.yaml -multi-sig -permission form_fill in.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 1 {
		signFlags.Usage()
		osExit(1)
	}

	inputPath := signFlags.Arg(0)
	outputPath := signFlags.Arg(1)

	res, err := signPDF(inputPath, outputPath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if pipeline.IsLocked(err) {
			fmt.Fprintln(os.Stderr, "Close the file in other programs and try again.")
		}
		osExit(1)
	}

	printResult(res)
	fmt.Printf("Successfully signed PDF: %s\n", res.OutputPath)
}

// signPDF signs one document with the configured credential.
func signPDF(inputPath, outputPath string, opts *CommonOptions) (*pipeline.Result, error) {
	env, err := loadEnvironment(opts)
	if err != nil {
		return nil, err
	}
	defer env.log.Sync()

	signer, attempts, closeSigner, err := env.openSigner(opts.PIN)
	if err != nil {
		return nil, fmt.Errorf("failed to open signer: %w", err)
	}
	defer closeSigner()

	p, scratch, err := env.newPipeline(attempts)
	if err != nil {
		return nil, err
	}
	defer scratch.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return p.Sign(ctx, env.request(inputPath, outputPath, signer))
}

func printResult(res *pipeline.Result) {
	fmt.Printf("Document: %s (%s)\n", res.InputPath, res.State)
	fmt.Printf("Plan:     %s\n", res.Plan)
	if res.FieldName != "" {
		fmt.Printf("Field:    %s\n", res.FieldName)
	}
	if len(res.Stamped) > 0 {
		fmt.Printf("Stamped:  pages %v\n", oneBased(res.Stamped))
	}
	if res.Report != nil {
		if mech, ok := res.Report.Succeeded(); ok {
			fmt.Printf("Mechanism: %s (attempt %d)\n", mech, len(res.Report.Attempts))
		}
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning:  %s: %v\n", errs.KindOf(w), w)
	}
}

func oneBased(pages []int) []int {
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = p + 1
	}
	return out
}
