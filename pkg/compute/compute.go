// Package compute runs operations: it decodes a payload for its kind and produces the
// result, calling the language model for the text kinds.
package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"job-coordinator/pkg/job"
	"job-coordinator/pkg/operation"

	"github.com/sirupsen/logrus"
)

// Result is the output of an operation, keyed by result field.
type Result map[string]any

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ComputeError reports a failed operation. Its message is what gets recorded on the job.
type ComputeError struct {
	Kind job.Kind
	Err  error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s failed: %v", strings.ReplaceAll(string(e.Kind), "_", " "), e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

type Executor struct {
	gen Generator
	log logrus.FieldLogger
}

func NewExecutor(gen Generator, log logrus.FieldLogger) *Executor {
	return &Executor{gen: gen, log: log}
}

// Execute decodes payload as a request of kind and runs it.
func (e *Executor) Execute(ctx context.Context, kind job.Kind, payload json.RawMessage) (Result, error) {
	req, err := operation.Decode(kind, payload)
	if err != nil {
		return nil, &ComputeError{Kind: kind, Err: err}
	}
	return e.Run(ctx, req)
}

// Run executes an already validated request.
func (e *Executor) Run(ctx context.Context, req operation.Request) (Result, error) {
	kind := req.Kind()
	switch r := req.(type) {
	case *operation.EchoRequest:
		out := make(Result, len(r.Body))
		for k, v := range r.Body {
			out[k] = v
		}
		return out, nil
	case operation.Prompter:
		if e.gen == nil {
			return nil, &ComputeError{Kind: kind, Err: fmt.Errorf("no generator configured")}
		}
		text, err := e.gen.Generate(ctx, r.Prompt())
		if err != nil {
			e.log.WithError(err).WithField("kind", kind).Error("generation failed")
			return nil, &ComputeError{Kind: kind, Err: err}
		}
		return Result{r.ResultField(): strings.TrimSpace(text)}, nil
	default:
		return nil, &ComputeError{Kind: kind, Err: fmt.Errorf("no executor for kind")}
	}
}
