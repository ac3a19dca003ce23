// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func setFlags(input, config string, cores int) func() {
	oldInput, oldConfig, oldCores := inputFlag, configFlag, coresFlag
	inputFlag, configFlag, coresFlag = input, config, cores
	return func() { inputFlag, configFlag, coresFlag = oldInput, oldConfig, oldCores }
}

func TestRequiredFlags(t *testing.T) {
	defer setFlags("", "", 0)()
	expect.EQ(t, missingFlags(), []string{"-input", "-config"})

	inputFlag = "/data/in"
	expect.EQ(t, missingFlags(), []string{"-config"})

	configFlag = "/data/tools.yaml"
	expect.EQ(t, len(missingFlags()), 0)
}

func TestCoresPerNodeRequired(t *testing.T) {
	for _, name := range []string{"cores-per-node", "CPN"} {
		expect.EQ(t, flag.Lookup(name).DefValue, "0")
	}
	defer setFlags("/data/in", "/data/tools.yaml", 0)()
	oldRef, oldSites, oldOut := referenceFlag, knownSitesFlag, outputFlag
	defer func() { referenceFlag, knownSitesFlag, outputFlag = oldRef, oldSites, oldOut }()
	referenceFlag, knownSitesFlag, outputFlag = "/ref/hg19.fa", "/ref/dbsnp.vcf", "/data/out"

	cfg := configFromFlags()
	err := cfg.Validate()
	expect.True(t, errors.Is(errors.Invalid, err))
	assert.Contains(t, err.Error(), "cores per node must be positive, got 0")

	coresFlag = 8
	cfg = configFromFlags()
	expect.NoError(t, cfg.Validate())
	expect.EQ(t, cfg.CoresPerNode, 8)
}
