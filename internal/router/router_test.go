package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageforge/backend/internal/provider"
	"stageforge/backend/pkg/models"
)

// fakeGenerator is a scriptable provider.Generator for router tests.
type fakeGenerator struct {
	name       string
	configured bool
	content    string
	err        error
	delay      time.Duration
	calls      int
}

func (f *fakeGenerator) Name() string     { return f.name }
func (f *fakeGenerator) Configured() bool { return f.configured }

func (f *fakeGenerator) Generate(ctx context.Context, model, system, user string, temperature float64, maxTokens int) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.content, f.err
}

func cand(p, m string) models.Candidate { return models.Candidate{Provider: p, Model: m} }

func TestExecuteFirstSuccessWins(t *testing.T) {
	primary := &fakeGenerator{name: "anthropic", configured: true, content: "primary wins"}
	fallback := &fakeGenerator{name: "openai", configured: true, content: "fallback"}
	r := New(provider.NewRegistry(primary, fallback), time.Second, nil)

	content, err := r.Execute(context.Background(),
		[]models.Candidate{cand("anthropic", "a1"), cand("openai", "o1")}, Request{Payload: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "primary wins", content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls, "no further candidates tried after a success")
}

func TestExecuteFallsBackToFirstSuccess(t *testing.T) {
	p := &fakeGenerator{name: "anthropic", configured: true, err: errors.New("rate limited")}
	f1 := &fakeGenerator{name: "openai", configured: true, err: errors.New("quota exceeded")}
	f2 := &fakeGenerator{name: "gemini", configured: true, content: "third time lucky"}
	r := New(provider.NewRegistry(p, f1, f2), time.Second, nil)

	content, err := r.Execute(context.Background(), []models.Candidate{
		cand("anthropic", "a1"), cand("openai", "o1"), cand("gemini", "g1"),
	}, Request{})

	require.NoError(t, err)
	assert.Equal(t, "third time lucky", content)
}

func TestExecuteExhaustionAggregatesDetail(t *testing.T) {
	p := &fakeGenerator{name: "anthropic", configured: true, err: errors.New("rate limited")}
	f1 := &fakeGenerator{name: "openai", configured: false}
	f2 := &fakeGenerator{name: "gemini", configured: true, err: errors.New("server exploded")}
	r := New(provider.NewRegistry(p, f1, f2), time.Second, nil)

	_, err := r.Execute(context.Background(), []models.Candidate{
		cand("anthropic", "a1"), cand("openai", "o1"), cand("gemini", "g1"),
	}, Request{})

	require.Error(t, err)
	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	require.Len(t, exhaustion.Attempts, 3)

	msg := err.Error()
	assert.Contains(t, msg, "anthropic/a1: rate limited")
	assert.Contains(t, msg, "openai/o1: provider is not configured")
	assert.Contains(t, msg, "gemini/g1: server exploded")
}

func TestExecuteSkipsUnconfiguredWithoutCalling(t *testing.T) {
	skipped := &fakeGenerator{name: "anthropic", configured: false, content: "never"}
	ok := &fakeGenerator{name: "openai", configured: true, content: "served"}
	r := New(provider.NewRegistry(skipped, ok), time.Second, nil)

	content, err := r.Execute(context.Background(),
		[]models.Candidate{cand("anthropic", "a1"), cand("openai", "o1")}, Request{})

	require.NoError(t, err)
	assert.Equal(t, "served", content)
	assert.Equal(t, 0, skipped.calls)
}

func TestExecuteTimeoutMovesToNextCandidate(t *testing.T) {
	slow := &fakeGenerator{name: "anthropic", configured: true, content: "late", delay: 200 * time.Millisecond}
	fast := &fakeGenerator{name: "openai", configured: true, content: "on time"}
	r := New(provider.NewRegistry(slow, fast), 20*time.Millisecond, nil)

	content, err := r.Execute(context.Background(),
		[]models.Candidate{cand("anthropic", "a1"), cand("openai", "o1")}, Request{})

	require.NoError(t, err)
	assert.Equal(t, "on time", content)
}

func TestExecuteEmptyContentIsACallError(t *testing.T) {
	empty := &fakeGenerator{name: "anthropic", configured: true, content: "   "}
	r := New(provider.NewRegistry(empty), time.Second, nil)

	_, err := r.Execute(context.Background(), []models.Candidate{cand("anthropic", "a1")}, Request{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), models.ErrEmptyResponse.Error())
}

func TestExecuteEmptyCandidateList(t *testing.T) {
	r := New(provider.NewRegistry(), time.Second, nil)
	_, err := r.Execute(context.Background(), nil, Request{})
	assert.ErrorIs(t, err, models.ErrNoCandidates)
}

func TestAvailablePartitions(t *testing.T) {
	a := &fakeGenerator{name: "anthropic", configured: true}
	o := &fakeGenerator{name: "openai", configured: false}
	r := New(provider.NewRegistry(a, o), time.Second, nil)

	configured, unconfigured := r.Available([]models.Candidate{
		cand("anthropic", "a1"), cand("openai", "o1"), cand("unknown", "u1"),
	})

	assert.Equal(t, []models.Candidate{cand("anthropic", "a1")}, configured)
	assert.Equal(t, []models.Candidate{cand("openai", "o1"), cand("unknown", "u1")}, unconfigured)
	assert.Equal(t, 0, a.calls, "Available performs no network calls")
}
