package compute

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"job-coordinator/pkg/job"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestExecuteTextKinds(t *testing.T) {
	cases := []struct {
		kind    job.Kind
		payload string
		field   string
	}{
		{job.KindSummarize, `{"text":"the quick brown fox jumps","max_length":100}`, "summary"},
		{job.KindQuestionAnswer, `{"context":"Paris is the capital of France.","question":"What is the capital?"}`, "answer"},
		{job.KindToneRewrite, `{"text":"send it now","target_tone":"polite"}`, "rewritten_text"},
		{job.KindTranslate, `{"text":"hola","target_language":"en"}`, "translation"},
	}
	for _, tc := range cases {
		gen := &fakeGenerator{reply: "  generated\n"}
		e := NewExecutor(gen, quietLogger())

		res, err := e.Execute(context.Background(), tc.kind, []byte(tc.payload))
		require.NoError(t, err, tc.kind)
		assert.Equal(t, Result{tc.field: "generated"}, res, tc.kind)
		assert.Len(t, gen.prompts, 1)
	}
}

func TestExecuteEchoSkipsGenerator(t *testing.T) {
	gen := &fakeGenerator{}
	e := NewExecutor(gen, quietLogger())

	res, err := e.Execute(context.Background(), job.KindEcho, []byte(`{"x":1,"y":"z"}`))
	require.NoError(t, err)
	assert.Equal(t, Result{"x": float64(1), "y": "z"}, res)
	assert.Empty(t, gen.prompts)
}

func TestExecuteFailures(t *testing.T) {
	e := NewExecutor(&fakeGenerator{err: errors.New("quota exceeded")}, quietLogger())

	_, err := e.Execute(context.Background(), job.KindSummarize, []byte(`{"text":"long enough text"}`))
	var ce *ComputeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, job.KindSummarize, ce.Kind)
	assert.Equal(t, "summarize failed: quota exceeded", err.Error())

	_, err = e.Execute(context.Background(), job.KindTranslate, []byte(`{"text":""}`))
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, job.KindTranslate, ce.Kind)

	_, err = e.Execute(context.Background(), "bogus", []byte(`{}`))
	require.True(t, errors.As(err, &ce))
}

func TestExecuteWithoutGenerator(t *testing.T) {
	e := NewExecutor(nil, quietLogger())
	_, err := e.Execute(context.Background(), job.KindToneRewrite, []byte(`{"text":"hello","target_tone":"calm"}`))
	var ce *ComputeError
	assert.True(t, errors.As(err, &ce))
}

func TestEchoGenerator(t *testing.T) {
	out, err := EchoGenerator{}.Generate(context.Background(), "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "3 prompt bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoGenerator{}.Generate(ctx, "abc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerTripsOnRepeatedFailures(t *testing.T) {
	cb := newBreaker("test", time.Minute, quietLogger())
	boom := errors.New("upstream down")

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := newBreaker("test", time.Minute, quietLogger())
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, context.Canceled })
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
