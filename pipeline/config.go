// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/tool"
	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

var (
	// DefaultGATK launches GATK3 from the working directory.
	DefaultGATK = []string{"java", "-jar", "GenomeAnalysisTK.jar"}
	// DefaultPicard launches Picard from the working directory.
	DefaultPicard = []string{"java", "-jar", "picard.jar"}
)

// Config holds the settings of one pipeline run. It is validated once and
// then shared, read only, by every stage.
type Config struct {
	// Reference is the path of the pre-indexed reference FASTA.
	Reference string
	// KnownSites is the path of the known variant sites used by BQSR.
	KnownSites string
	// OutputDir receives the final call set and the retained artifacts.
	OutputDir string
	// ScratchDir receives merged files and contig shards. Defaults to
	// OutputDir/scratch.
	ScratchDir string
	// CoresPerNode is passed to the multi-threaded tools.
	CoresPerNode int
	// Parallelism is the number of work items run at once. Defaults to the
	// number of CPUs.
	Parallelism int
	// ToolArgs maps a tool name, such as "MarkDuplicates", to extra command
	// line arguments for that tool.
	ToolArgs map[string]string
	// GATK and Picard are the argv prefixes launching the tools. They
	// default to DefaultGATK and DefaultPicard.
	GATK, Picard []string
}

// Validate checks c and fills in defaults. It returns an error of kind
// errors.Invalid describing every problem found.
func (c *Config) Validate() error {
	var problems []string
	if c.Reference == "" {
		problems = append(problems, "reference genome path is required")
	}
	if c.KnownSites == "" {
		problems = append(problems, "known sites path is required")
	}
	if c.OutputDir == "" {
		problems = append(problems, "output directory is required")
	}
	if c.CoresPerNode <= 0 {
		problems = append(problems, fmt.Sprintf("cores per node must be positive, got %d", c.CoresPerNode))
	}
	if c.Parallelism < 0 {
		problems = append(problems, fmt.Sprintf("parallelism must not be negative, got %d", c.Parallelism))
	}
	if len(problems) > 0 {
		return errors.E(errors.Invalid, "invalid configuration: "+strings.Join(problems, "; "))
	}
	for _, p := range []*string{&c.Reference, &c.KnownSites, &c.OutputDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return errors.E(errors.Invalid, err, "invalid path", *p)
		}
		*p = abs
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(c.OutputDir, "scratch")
	}
	if c.Parallelism == 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if len(c.GATK) == 0 {
		c.GATK = DefaultGATK
	}
	if len(c.Picard) == 0 {
		c.Picard = DefaultPicard
	}
	known := map[string]bool{}
	for _, name := range tool.Names {
		known[name] = true
	}
	for _, name := range sortedKeys(c.ToolArgs) {
		if !known[name] {
			log.Error.Printf("configuration entry %q names no tool of the pipeline; ignored", name)
		}
	}
	return nil
}

func (c *Config) toolchain() tool.Toolchain {
	return tool.Toolchain{
		GATK:      c.GATK,
		Picard:    c.Picard,
		Reference: c.Reference,
		Threads:   c.CoresPerNode,
		Extra:     c.ToolArgs,
	}
}

// Configured reports whether the configuration has an entry for the named
// tool. An entry with an empty value counts as configured.
func (c *Config) Configured(name string) bool {
	_, ok := c.ToolArgs[name]
	return ok
}

// LoadToolArgs reads the file mapping tool names to extra arguments. The
// file is either a YAML mapping or a Java properties file of key=value
// lines.
func LoadToolArgs(ctx context.Context, path string) (args map[string]string, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "open tool configuration")
	}
	defer file.CloseAndReport(ctx, in, &err)
	data, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "read tool configuration", path)
	}
	return ParseToolArgs(data)
}

// ParseToolArgs parses the contents of a tool configuration file.
func ParseToolArgs(data []byte) (map[string]string, error) {
	args := map[string]string{}
	if err := yaml.Unmarshal(data, &args); err == nil {
		return args, nil
	}
	return parseProperties(data)
}

// parseProperties parses a Java properties file.
func parseProperties(data []byte) (map[string]string, error) {
	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	props, err := loader.LoadBytes(data)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "parse tool configuration")
	}
	args := make(map[string]string, props.Len())
	for _, key := range props.Keys() {
		args[key], _ = props.Get(key)
	}
	return args, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
