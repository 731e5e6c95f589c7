// Command kasm assembles KASM source into a relocatable KO object file
// for the downstream kOS linker: this file is the external CLI
// collaborator wiring internal/pipeline's stages together. It owns no
// assembly semantics of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ksp-kos/kasm/config"
	"github.com/ksp-kos/kasm/internal/lexer"
	"github.com/ksp-kos/kasm/internal/pipeline"
	"github.com/ksp-kos/kasm/internal/source"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

type options struct {
	output           string
	includeDirs      []string
	sourceName       string
	comment          string
	suppressWarnings bool
	skipPreprocess   bool
	preprocessOnly   bool
	configPath       string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "kasm <input.kasm>",
		Short:         "Assemble KASM source into a KO object file",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output KO path (required)")
	flags.StringArrayVarP(&opts.includeDirs, "include", "i", nil, "include search directory (repeatable)")
	flags.StringVarP(&opts.sourceName, "source-name", "f", "", "source-symbol name recorded in the KO (overrides the input filename)")
	flags.StringVarP(&opts.comment, "comment", "c", "", "comment string embedded for the linker")
	flags.BoolVarP(&opts.suppressWarnings, "no-warn", "w", false, "suppress warnings from the rendered diagnostics")
	flags.BoolVarP(&opts.skipPreprocess, "skip-preprocess", "a", false, "treat the input as already preprocessed")
	flags.BoolVarP(&opts.preprocessOnly, "preprocess-only", "p", false, "run preprocessing only; write preprocessed source to -o")
	flags.StringVar(&opts.configPath, "config", "", "path to a kasm config.toml (defaults to the platform config path)")
	_ = root.MarkFlagRequired("output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kasm: "+err.Error())
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(input string, opts *options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	includeDirs := cfg.Merge(opts.includeDirs)
	suppressWarnings := opts.suppressWarnings || cfg.Assemble.SuppressWarnings
	comment := opts.comment
	if comment == "" {
		comment = cfg.Output.Comment
	}

	sources := source.NewSet(includeDirs)
	unit, err := sources.LoadFile(input)
	if err != nil {
		return err
	}
	if opts.sourceName != "" {
		unit.Name = opts.sourceName
	} else if cfg.Output.SourceName != "" {
		unit.Name = cfg.Output.SourceName
	}

	runOpts := pipeline.Options{
		SkipPreprocess: opts.skipPreprocess || cfg.Assemble.SkipPreprocess,
		SourceName:     unit.Name,
		Comment:        comment,
	}

	if opts.preprocessOnly {
		toks, bag, err := pipeline.Preprocess(sources, unit, runOpts)
		if err != nil {
			return err
		}
		if rendered := bag.Render(suppressWarnings); rendered != "" {
			fmt.Fprint(os.Stderr, rendered)
		}
		if bag.HasErrors() {
			return fmt.Errorf("preprocessing failed with %d error(s)", len(bag.Errors()))
		}
		return os.WriteFile(opts.output, []byte(lexer.Render(toks)), 0644) // #nosec G306 -- assembler output artifact
	}

	result, err := pipeline.Assemble(sources, unit, runOpts)
	if err != nil {
		return err
	}
	if rendered := result.Bag.Render(suppressWarnings); rendered != "" {
		fmt.Fprint(os.Stderr, rendered)
	}
	if result.Bag.HasErrors() {
		return fmt.Errorf("assembly failed with %d error(s)", len(result.Bag.Errors()))
	}

	f, err := os.Create(opts.output) // #nosec G304 -- CLI-supplied output path
	if err != nil {
		return err
	}
	defer f.Close()

	if err := pipeline.WriteKO(f, result, unit.Name, comment); err != nil {
		return fmt.Errorf("write KO: %w", err)
	}
	return nil
}
