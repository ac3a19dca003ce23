// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/varcall/pipeline"
	"github.com/grailbio/varcall/tool"
	shellwords "github.com/mattn/go-shellwords"
)

// Flags with a short alias, bound in init.
var (
	referenceFlag  string
	knownSitesFlag string
	inputFlag      string
	outputFlag     string
	configFlag     string
	coresFlag      int
)

var (
	scratchFlag     = flag.String("scratch", "", "Directory for merged files and contig shards. Defaults to <output>/scratch")
	parallelismFlag = flag.Int("parallelism", 0, "Maximum number of tool invocations run at once; 0 = runtime.NumCPU()")
	gatkFlag        = flag.String("gatk", strings.Join(pipeline.DefaultGATK, " "), "Command line launching GATK3")
	picardFlag      = flag.String("picard", strings.Join(pipeline.DefaultPicard, " "), "Command line launching Picard")
)

func init() {
	for _, name := range []string{"reference", "R"} {
		flag.StringVar(&referenceFlag, name, "", "Pre-indexed reference FASTA (required)")
	}
	for _, name := range []string{"known-sites", "S"} {
		flag.StringVar(&knownSitesFlag, name, "", "Known variant sites VCF used by base recalibration (required)")
	}
	for _, name := range []string{"input", "I"} {
		flag.StringVar(&inputFlag, name, "", "Directory holding the raw .sam and .bam alignments (required)")
	}
	for _, name := range []string{"output", "O"} {
		flag.StringVar(&outputFlag, name, "", "Output directory (required)")
	}
	for _, name := range []string{"config", "C"} {
		flag.StringVar(&configFlag, name, "", "Tool configuration file, YAML or properties (required)")
	}
	for _, name := range []string{"cores-per-node", "CPN"} {
		flag.IntVar(&coresFlag, name, 0, "Threads given to each multi-threaded tool (required)")
	}
}

// missingFlags lists the required options that were not given. The
// pipeline configuration checks the others.
func missingFlags() []string {
	var missing []string
	if inputFlag == "" {
		missing = append(missing, "-input")
	}
	if configFlag == "" {
		missing = append(missing, "-config")
	}
	return missing
}

func configFromFlags() pipeline.Config {
	return pipeline.Config{
		Reference:    referenceFlag,
		KnownSites:   knownSitesFlag,
		OutputDir:    outputFlag,
		ScratchDir:   *scratchFlag,
		CoresPerNode: coresFlag,
		Parallelism:  *parallelismFlag,
	}
}

func launcher(name, cmdline string) []string {
	argv, err := shellwords.Parse(cmdline)
	if err != nil {
		log.Fatalf("-%s %q: %v", name, cmdline, err)
	}
	argv, err = tool.Resolve(argv)
	if err != nil {
		log.Fatalf("-%s: %v", name, err)
	}
	return argv
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -R ref.fa -S known.vcf -I inputdir -O outputdir [OPTIONS]\n", os.Args[0])
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 0 {
		flag.Usage()
		os.Exit(1)
	}
	if missing := missingFlags(); len(missing) > 0 {
		log.Error.Printf("missing required options: %s", strings.Join(missing, ", "))
		flag.Usage()
		os.Exit(1)
	}
	cfg := configFromFlags()
	if err := cfg.Validate(); err != nil {
		log.Error.Printf("%v", err)
		flag.Usage()
		os.Exit(1)
	}
	ctx := vcontext.Background()
	var err error
	if cfg.ToolArgs, err = pipeline.LoadToolArgs(ctx, configFlag); err != nil {
		log.Fatalf("%s: %v", configFlag, err)
	}
	cfg.GATK = launcher("gatk", *gatkFlag)
	cfg.Picard = launcher("picard", *picardFlag)
	o := pipeline.Orchestrator{Config: cfg, Invoker: tool.NewInvoker()}
	final, err := o.Run(ctx, inputFlag)
	if err != nil {
		if f, ok := pipeline.AsFailure(err); ok {
			log.Error.Printf("run %s stopped in stage %s", o.ID(), f.Stage)
		}
		log.Error.Printf("%v", err)
		shutdown()
		os.Exit(1)
	}
	for _, a := range o.Retained() {
		log.Printf("retained %s (%v)", a.Path, a.Kind)
	}
	fmt.Println(final.Path)
}
