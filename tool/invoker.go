// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Outcome classifies a finished invocation.
type Outcome int

const (
	// Success means the tool exited zero.
	Success Outcome = iota
	// Retryable means the failure belongs to a transient class and the same
	// invocation may succeed if repeated.
	Retryable
	// Fatal means the failure is not worth retrying.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// RetryPolicy decides which failures are retried, and how often.
type RetryPolicy struct {
	// MaxAttempts is the total number of runs allowed for an invocation
	// whose failures are all transient. Values below 1 mean 1.
	MaxAttempts int
	// Transient matches tool diagnostics of failures that are retried.
	Transient []*regexp.Regexp
}

// DefaultRetryPolicy retries, exactly once, the internal GATK errors that
// GATK3 tools raise sporadically under concurrent load.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 2,
	Transient: []*regexp.Regexp{
		regexp.MustCompile(`ReviewedGATKException`),
	},
}

// Classify returns the outcome of res.
func (p RetryPolicy) Classify(res Result) Outcome {
	if res.ExitCode == 0 {
		return Success
	}
	for _, re := range p.Transient {
		if re.MatchString(res.Output) {
			return Retryable
		}
	}
	return Fatal
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Failure describes an invocation that did not succeed.
type Failure struct {
	Tool     string
	Argv     []string
	ExitCode int
	// Attempts is the number of times the tool was run.
	Attempts int
	// Outcome of the last attempt.
	Outcome Outcome
	// Diagnostic is the tail of the tool's own output.
	Diagnostic string
}

// Error implements error.
func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exited with status %d after %d attempt(s)", f.Tool, f.ExitCode, f.Attempts)
	if f.Outcome == Retryable {
		b.WriteString(" (transient failure repeated)")
	}
	if d := strings.TrimSpace(f.Diagnostic); d != "" {
		b.WriteString(":\n")
		b.WriteString(d)
	}
	return b.String()
}

// AsFailure finds the *Failure in the cause chain of err.
func AsFailure(err error) (*Failure, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Failure:
			return e, true
		case *errors.Error:
			err = e.Err
		default:
			return nil, false
		}
	}
	return nil, false
}

// Invoker runs Invocations with a Runner under a RetryPolicy. It is safe for
// concurrent use if its Runner is.
type Invoker struct {
	Runner Runner
	Policy RetryPolicy
}

// NewInvoker returns an Invoker that runs local subprocesses with
// DefaultRetryPolicy.
func NewInvoker() *Invoker {
	return &Invoker{Runner: ExecRunner{}, Policy: DefaultRetryPolicy}
}

// Invoke runs inv until it succeeds, fails fatally, or exhausts the retry
// policy. The returned error wraps a *Failure. After a failed attempt the
// declared outputs of inv are removed, so they are never consumed.
func (i *Invoker) Invoke(ctx context.Context, inv Invocation) error {
	argv, err := inv.Argv()
	if err != nil {
		return err
	}
	max := i.Policy.attempts()
	for attempt := 1; ; attempt++ {
		log.Debug.Printf("%s: attempt %d: %s", inv.Name, attempt, strings.Join(argv, " "))
		res, err := i.Runner.Run(ctx, argv)
		if err == nil && res.ExitCode == 0 {
			return nil
		}
		removeOutputs(inv.Outputs)
		f := &Failure{
			Tool:       inv.Name,
			Argv:       argv,
			ExitCode:   res.ExitCode,
			Attempts:   attempt,
			Outcome:    Fatal,
			Diagnostic: res.Output,
		}
		if err != nil {
			if errors.Is(errors.Canceled, err) {
				return errors.E(errors.Canceled, f)
			}
			f.Diagnostic = err.Error()
			return errors.E(errors.Fatal, f)
		}
		f.Outcome = i.Policy.Classify(res)
		if f.Outcome != Retryable {
			return errors.E(errors.Fatal, f)
		}
		if attempt >= max {
			return errors.E(errors.TooManyTries, errors.Fatal, f)
		}
		log.Error.Printf("%s: transient failure (exit %d), retrying", inv.Name, res.ExitCode)
	}
}

func removeOutputs(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("remove %s: %v", path, err)
		}
	}
}
