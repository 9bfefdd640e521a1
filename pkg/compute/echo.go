package compute

import (
	"context"
	"fmt"
)

// EchoGenerator answers without a model. It backs compute.provider=echo for local runs.
type EchoGenerator struct{}

func (EchoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[echo] %d prompt bytes", len(prompt)), nil
}
