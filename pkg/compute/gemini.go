package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"
)

// Gemini generates text with a Google generative model. Calls go through a circuit
// breaker so a failing upstream is not hammered by every queued job.
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

type GeminiOptions struct {
	APIKey         string
	Model          string
	Timeout        time.Duration
	BreakerTimeout time.Duration
}

func NewGemini(ctx context.Context, opts GeminiOptions, log logrus.FieldLogger) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, errors.New("compute api key is required for the gemini provider")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	log.WithField("model", opts.Model).Info("initialized generative model")
	return &Gemini{
		client:  client,
		model:   client.GenerativeModel(opts.Model),
		cb:      newBreaker("gemini", opts.BreakerTimeout, log),
		timeout: opts.Timeout,
	}, nil
}

func newBreaker(name string, timeout time.Duration, log logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
		// Cancellation by the caller says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.cb.Execute(func() (interface{}, error) {
		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return responseText(resp)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", errors.New("model returned no text")
	}
	return b.String(), nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}
