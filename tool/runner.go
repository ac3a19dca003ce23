// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// maxDiagnostic bounds the amount of tool output kept for error reports.
const maxDiagnostic = 64 << 10

// Result is the outcome of one subprocess run.
type Result struct {
	ExitCode int
	// Output is the tail of the combined stdout and stderr of the tool.
	Output string
}

// Runner runs a command to completion. Run returns an error only when the
// command could not be run at all; a command that ran and exited non-zero
// is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, argv []string) (Result, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	// Dir is the working directory of the subprocess. If empty, the current
	// directory is used.
	Dir string
	// Env, if non-nil, replaces the environment of the subprocess.
	Env []string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.E(errors.Invalid, "empty command line")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	out := &tailWriter{max: maxDiagnostic}
	cmd.Stdout = out
	cmd.Stderr = out
	log.Debug.Printf("exec: %s", strings.Join(argv, " "))
	err := cmd.Run()
	res := Result{Output: out.String()}
	if err == nil {
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by a signal.
			res.ExitCode = 128
		}
		if ctx.Err() != nil {
			return res, errors.E(errors.Canceled, ctx.Err(), argv[0])
		}
		return res, nil
	}
	return res, errors.E(err, "run", argv[0])
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	if len(p) > w.max {
		p = p[len(p)-w.max:]
	}
	if over := w.buf.Len() + len(p) - w.max; over > 0 {
		w.buf.Next(over)
	}
	w.buf.Write(p)
	return n, nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Resolve looks up the program of a launcher prefix in $PATH and returns the
// prefix with its first word replaced by the absolute path.
func Resolve(prefix []string) ([]string, error) {
	if len(prefix) == 0 {
		return nil, errors.E(errors.Invalid, "empty launcher")
	}
	env := envvar.SliceToMap(os.Environ())
	path, err := lookpath.Look(env, prefix[0])
	if err != nil {
		return nil, errors.E(errors.NotExist, err, "launcher", prefix[0])
	}
	return append([]string{path}, prefix[1:]...), nil
}
