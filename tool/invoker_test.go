// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/varcall/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transient = tool.Result{ExitCode: 1, Output: "##### ERROR org.broadinstitute.gatk.utils.exceptions.ReviewedGATKException: Timeout"}

func testInvocation(outputs ...string) tool.Invocation {
	return tool.Invocation{
		Name:    tool.BaseRecalibrator,
		Program: []string{"gatk"},
		Args:    []string{"-T", "BaseRecalibrator", "-I", "in.bam"},
		Outputs: outputs,
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := &tool.FakeRunner{}
	inv := &tool.Invoker{Runner: r, Policy: tool.DefaultRetryPolicy}
	require.NoError(t, inv.Invoke(context.Background(), testInvocation()))
	assert.Equal(t, [][]string{{"gatk", "-T", "BaseRecalibrator", "-I", "in.bam"}}, r.Calls())
}

func TestInvokeRetryTransparency(t *testing.T) {
	r := &tool.FakeRunner{Results: []tool.Result{transient, {}}}
	inv := &tool.Invoker{Runner: r, Policy: tool.DefaultRetryPolicy}
	require.NoError(t, inv.Invoke(context.Background(), testInvocation()))
	calls := r.Calls()
	require.Len(t, calls, 2)
	// The retry uses identical arguments.
	assert.Equal(t, calls[0], calls[1])
}

func TestInvokeTransientTwice(t *testing.T) {
	r := &tool.FakeRunner{Results: []tool.Result{transient, transient, {}}}
	inv := &tool.Invoker{Runner: r, Policy: tool.DefaultRetryPolicy}
	err := inv.Invoke(context.Background(), testInvocation())
	require.Error(t, err)
	assert.True(t, errors.Is(errors.TooManyTries, err))
	assert.Len(t, r.Calls(), 2)

	f, ok := tool.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, tool.BaseRecalibrator, f.Tool)
	assert.Equal(t, 2, f.Attempts)
	assert.Equal(t, tool.Retryable, f.Outcome)
	assert.Contains(t, err.Error(), "ReviewedGATKException")
}

func TestInvokeFatal(t *testing.T) {
	r := &tool.FakeRunner{Results: []tool.Result{{ExitCode: 3, Output: "java.lang.OutOfMemoryError"}}}
	inv := &tool.Invoker{Runner: r, Policy: tool.DefaultRetryPolicy}
	err := inv.Invoke(context.Background(), testInvocation())
	require.Error(t, err)
	assert.False(t, errors.Is(errors.TooManyTries, err))
	assert.Len(t, r.Calls(), 1)
	f, ok := tool.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, 3, f.ExitCode)
	assert.Equal(t, tool.Fatal, f.Outcome)
	assert.Contains(t, f.Error(), "OutOfMemoryError")
}

func TestInvokeNoRetryPolicy(t *testing.T) {
	r := &tool.FakeRunner{Results: []tool.Result{transient, {}}}
	inv := &tool.Invoker{Runner: r}
	err := inv.Invoke(context.Background(), testInvocation())
	require.Error(t, err)
	assert.Len(t, r.Calls(), 1)

	// A policy that recognizes the failure but allows a single attempt.
	r = &tool.FakeRunner{Results: []tool.Result{transient, {}}}
	inv = &tool.Invoker{Runner: r, Policy: tool.RetryPolicy{
		MaxAttempts: 1,
		Transient:   tool.DefaultRetryPolicy.Transient,
	}}
	err = inv.Invoke(context.Background(), testInvocation())
	require.Error(t, err)
	assert.True(t, errors.Is(errors.TooManyTries, err))
	assert.Len(t, r.Calls(), 1)
}

func TestInvokeRemovesOutputs(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	out := filepath.Join(tempDir, "out.table")
	r := &tool.FakeRunner{Handler: func(call int, argv []string) (tool.Result, error) {
		// The tool writes a partial output, then fails.
		if err := ioutil.WriteFile(out, []byte("partial"), 0644); err != nil {
			return tool.Result{}, err
		}
		return tool.Result{ExitCode: 1, Output: "boom"}, nil
	}}
	inv := &tool.Invoker{Runner: r, Policy: tool.DefaultRetryPolicy}
	require.Error(t, inv.Invoke(context.Background(), testInvocation(out)))
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestClassify(t *testing.T) {
	p := tool.RetryPolicy{
		MaxAttempts: 3,
		Transient:   []*regexp.Regexp{regexp.MustCompile(`Connection reset`)},
	}
	assert.Equal(t, tool.Success, p.Classify(tool.Result{}))
	assert.Equal(t, tool.Retryable, p.Classify(tool.Result{ExitCode: 1, Output: "x: Connection reset by peer"}))
	assert.Equal(t, tool.Fatal, p.Classify(tool.Result{ExitCode: 1, Output: "ReviewedGATKException"}))
}

func TestArgv(t *testing.T) {
	inv := tool.Invocation{
		Name:    tool.HaplotypeCaller,
		Program: []string{"java", "-jar", "gatk.jar"},
		Args:    []string{"-R", "ref.fa", "-o", "out.g.vcf"},
		Extra:   `--annotation "Coverage" -stand_call_conf 30`,
	}
	argv, err := inv.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"java", "-jar", "gatk.jar",
		"-R", "ref.fa", "-o", "out.g.vcf",
		"--annotation", "Coverage", "-stand_call_conf", "30",
	}, argv)

	inv.Extra = `-foo "unterminated`
	_, err = inv.Argv()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	r := tool.ExecRunner{}
	res, err := r.Run(context.Background(), []string{"/bin/sh", "-c", "echo hello; echo oops >&2; exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
	assert.Contains(t, res.Output, "oops")

	_, err = r.Run(context.Background(), []string{"/nonexistent/program"})
	require.Error(t, err)
}
