package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/imzaci/imzala/pipeline"
)

// BatchCommand implements the 'batch' command.
func BatchCommand(args []string) {
	batchFlags := flag.NewFlagSet("batch", flag.ExitOnError)

	var opts CommonOptions
	opts.register(batchFlags)
	var workers int
	batchFlags.IntVar(&workers, "workers", 0, "Documents signed at once; defaults to the configured value")

	batchFlags.Usage = func() {
		fmt.Printf("Usage: %s batch [options] <file.pdf|directory>...\n\n", os.Args[0])
		fmt.Println("Sign several PDF files. Directories contribute their .pdf files.")
		fmt.Println("Signed copies go to an imzalananlar directory next to each input.")
		fmt.Println("")
		fmt.Println("Options:")
		batchFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s batch -config imzala.yaml ~/Belgeler/gelen\n", os.Args[0])
		fmt.Printf("  %s batch -config imzala.yaml -workers 4 a.pdf b.pdf c.pdf\n", os.Args[0])
	}

	if err := batchFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(batchFlags.Args()) < 1 {
		batchFlags.Usage()
		osExit(1)
	}

	inputs, err := expandInputs(batchFlags.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no PDF files found")
		osExit(1)
	}

	items, err := batchSign(inputs, workers, &opts)
	for _, it := range items {
		if it.Err != nil {
			fmt.Printf("FAILED  %s: %v\n", it.Request.InputPath, it.Err)
			continue
		}
		fmt.Printf("OK      %s -> %s\n", it.Result.InputPath, it.Result.OutputPath)
		for _, w := range it.Result.Warnings {
			fmt.Printf("        warning: %v\n", w)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	failed := pipeline.Failed(items)
	fmt.Printf("\n%d signed, %d failed\n", len(items)-failed, failed)
	if failed > 0 {
		osExit(1)
	}
}

func batchSign(inputs []string, workers int, opts *CommonOptions) ([]pipeline.BatchItem, error) {
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

	if workers <= 0 {
		workers = env.cfg.Signing.Workers
	}
	reqs := make([]pipeline.Request, len(inputs))
	for i, in := range inputs {
		reqs[i] = env.request(in, "", signer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return p.Batch(ctx, reqs, workers)
}

// expandInputs replaces directories with the PDF files directly inside
// them, sorted by name.
func expandInputs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}
