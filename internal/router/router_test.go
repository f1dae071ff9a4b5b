package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pwviptbl/AI-English-Mentor/internal/providers"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

// fakeProvider implements providers.Provider with scripted failures.
type fakeProvider struct {
	name      string
	available bool
	failTimes int
	calls     int
	err       error
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) attempt() error {
	f.calls++
	if f.failTimes < 0 || f.calls <= f.failTimes {
		if f.err != nil {
			return f.err
		}
		return fmt.Errorf("scripted failure %d", f.calls)
	}
	return nil
}

func (f *fakeProvider) CorrectInput(ctx context.Context, rawText string, pctx types.ProviderContext) (types.CorrectionResult, string, error) {
	if err := f.attempt(); err != nil {
		return types.CorrectionResult{}, "", err
	}
	return types.CorrectionResult{CorrectedText: rawText}, f.name + "-model", nil
}

func (f *fakeProvider) GenerateReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (types.ChatResult, string, error) {
	if err := f.attempt(); err != nil {
		return types.ChatResult{}, "", err
	}
	return types.ChatResult{Reply: "ok"}, f.name + "-model", nil
}

func (f *fakeProvider) StreamReply(ctx context.Context, correctedText string, history []types.HistoryMessage, pctx types.ProviderContext) (<-chan string, <-chan error, string, error) {
	if err := f.attempt(); err != nil {
		return nil, nil, "", err
	}
	chunks := make(chan string)
	errs := make(chan error)
	close(chunks)
	close(errs)
	return chunks, errs, f.name + "-model", nil
}

func (f *fakeProvider) AnalyzeSentence(ctx context.Context, sentenceEN string, pctx types.ProviderContext) (types.SentenceAnalysis, string, error) {
	if err := f.attempt(); err != nil {
		return types.SentenceAnalysis{}, "", err
	}
	return types.SentenceAnalysis{OriginalEN: sentenceEN}, f.name + "-model", nil
}

func correctCall(p providers.Provider) Call {
	return func(ctx context.Context, prov providers.Provider) (string, error) {
		_, model, err := prov.CorrectInput(ctx, "hi", types.ProviderContext{})
		return model, err
	}
}

func newTestRouter(def string, ps ...*fakeProvider) *Router {
	r := New(func() string { return def })
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func TestComputeOrderPriority(t *testing.T) {
	r := newTestRouter("gemini",
		&fakeProvider{name: "gemini", available: true},
		&fakeProvider{name: "ollama", available: true},
		&fakeProvider{name: "copilot", available: true},
	)

	tests := []struct {
		override, preference string
		want                 []string
	}{
		{"", "", []string{"gemini", "ollama", "copilot"}},
		{"", "copilot", []string{"copilot", "gemini", "ollama"}},
		{"ollama", "copilot", []string{"ollama", "copilot", "gemini"}},
		{"gemini", "gemini", []string{"gemini", "ollama", "copilot"}},
	}
	for _, tt := range tests {
		got := r.computeOrder(tt.override, tt.preference)
		if len(got) != len(tt.want) {
			t.Fatalf("computeOrder(%q, %q) = %v, want %v", tt.override, tt.preference, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("computeOrder(%q, %q) = %v, want %v", tt.override, tt.preference, got, tt.want)
			}
		}
	}
}

func TestComputeOrderIgnoresUnregistered(t *testing.T) {
	r := newTestRouter("gemini", &fakeProvider{name: "gemini", available: true})
	got := r.computeOrder("nonsense", "")
	if len(got) != 1 || got[0] != "gemini" {
		t.Fatalf("computeOrder = %v, want [gemini]", got)
	}
}

func TestDispatchFirstBackendGetsTwoAttempts(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: true, failTimes: -1}
	b := &fakeProvider{name: "beta", available: true}
	r := newTestRouter("alpha", a, b)

	outcome, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if outcome.Provider != "beta" {
		t.Fatalf("Provider = %q, want beta", outcome.Provider)
	}
	if a.calls != 2 {
		t.Fatalf("alpha calls = %d, want 2", a.calls)
	}
	if b.calls != 1 {
		t.Fatalf("beta calls = %d, want 1", b.calls)
	}
	if len(outcome.Attempts) != 3 {
		t.Fatalf("attempt trail = %v, want 2 failures + 1 success", outcome.Attempts)
	}
	if last := outcome.Attempts[2]; last.Provider != "beta" || last.Err != nil {
		t.Fatalf("final trail entry = %+v, want beta success", last)
	}
}

func TestDispatchShortCircuitsOnSuccess(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: true}
	b := &fakeProvider{name: "beta", available: true}
	r := newTestRouter("alpha", a, b)

	outcome, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if outcome.Provider != "alpha" || outcome.Model != "alpha-model" {
		t.Fatalf("outcome = %+v, want alpha/alpha-model", outcome)
	}
	if b.calls != 0 {
		t.Fatalf("beta calls = %d, want 0", b.calls)
	}
	if len(outcome.Attempts) != 1 || outcome.Attempts[0].Err != nil {
		t.Fatalf("attempt trail = %v, want single success entry", outcome.Attempts)
	}
}

func TestDispatchSkipsUnavailableWithoutAttempt(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: false}
	b := &fakeProvider{name: "beta", available: true}
	r := newTestRouter("alpha", a, b)

	outcome, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if outcome.Provider != "beta" {
		t.Fatalf("Provider = %q, want beta", outcome.Provider)
	}
	if a.calls != 0 {
		t.Fatalf("alpha calls = %d, want 0 (skipped)", a.calls)
	}
	if len(outcome.Attempts) != 2 || outcome.Attempts[0].Attempt != 0 {
		t.Fatalf("attempt trail = %v, want unavailable entry then beta success", outcome.Attempts)
	}
	if !providers.IsUnavailable(outcome.Attempts[0].Err) {
		t.Fatalf("trail error = %v, want unavailable", outcome.Attempts[0].Err)
	}
}

func TestDispatchAlwaysAttemptsGemini(t *testing.T) {
	g := &fakeProvider{name: "gemini", available: false}
	r := newTestRouter("gemini", g)

	outcome, err := r.Dispatch(context.Background(), "", "", correctCall(g))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if outcome.Provider != "gemini" {
		t.Fatalf("Provider = %q, want gemini", outcome.Provider)
	}
	if g.calls != 1 {
		t.Fatalf("gemini calls = %d, want 1 (attempted despite unavailable)", g.calls)
	}
}

func TestDispatchAllExhaustedAggregatesDetails(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: true, failTimes: -1}
	b := &fakeProvider{name: "beta", available: true, failTimes: -1}
	r := newTestRouter("alpha", a, b)

	_, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err == nil {
		t.Fatalf("Dispatch() error = nil, want AllBackendsExhausted")
	}
	var exhausted *AllBackendsExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T, want *AllBackendsExhausted", err)
	}
	if len(exhausted.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3 (2 alpha + 1 beta)", len(exhausted.Attempts))
	}
	msg := err.Error()
	if !strings.Contains(msg, "alpha#1") || !strings.Contains(msg, "alpha#2") || !strings.Contains(msg, "beta#1") {
		t.Fatalf("error message missing per-attempt detail: %q", msg)
	}
	if !strings.Contains(msg, " | ") {
		t.Fatalf("error message missing separator: %q", msg)
	}
}

func TestDispatchOnlyUnavailableBackend(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: false}
	r := newTestRouter("alpha", a)

	_, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	var exhausted *AllBackendsExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want AllBackendsExhausted", err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].Attempt != 0 {
		t.Fatalf("attempts = %v, want single unavailable entry", exhausted.Attempts)
	}
	if a.calls != 0 {
		t.Fatalf("alpha calls = %d, want 0", a.calls)
	}
}

func TestDispatchUnavailableErrorStopsRetries(t *testing.T) {
	// alpha claims available but fails with an unavailable error; the
	// second first-backend attempt would be wasted.
	a := &fakeProvider{name: "alpha", available: true, failTimes: -1,
		err: &providers.UnavailableError{Provider: "alpha", Reason: "key revoked"}}
	b := &fakeProvider{name: "beta", available: true}
	r := newTestRouter("alpha", a, b)

	outcome, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if a.calls != 1 {
		t.Fatalf("alpha calls = %d, want 1", a.calls)
	}
	if outcome.Provider != "beta" {
		t.Fatalf("Provider = %q, want beta", outcome.Provider)
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: true}
	r := newTestRouter("alpha", a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Dispatch(ctx, "", "", correctCall(a))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want context.Canceled", err)
	}
	if a.calls != 0 {
		t.Fatalf("alpha calls = %d, want 0", a.calls)
	}
}

type countingRecorder struct {
	successes map[string]int
	failures  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{successes: make(map[string]int), failures: make(map[string]int)}
}

func (c *countingRecorder) RecordSuccess(backend string) { c.successes[backend]++ }
func (c *countingRecorder) RecordFailure(backend string) { c.failures[backend]++ }

func TestDispatchReportsAttemptsToRecorder(t *testing.T) {
	a := &fakeProvider{name: "alpha", available: true, failTimes: -1}
	b := &fakeProvider{name: "beta", available: true}
	skipped := &fakeProvider{name: "omega", available: false}
	r := newTestRouter("alpha", a, b, skipped)

	rec := newCountingRecorder()
	r.SetRecorder(rec)

	_, err := r.Dispatch(context.Background(), "", "", correctCall(a))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if rec.failures["alpha"] != 2 {
		t.Fatalf("alpha failures = %d, want 2", rec.failures["alpha"])
	}
	if rec.successes["beta"] != 1 {
		t.Fatalf("beta successes = %d, want 1", rec.successes["beta"])
	}
	// Skipped unavailable backends never reach the recorder.
	if rec.successes["omega"] != 0 || rec.failures["omega"] != 0 {
		t.Fatalf("omega recorded %d/%d, want 0/0", rec.successes["omega"], rec.failures["omega"])
	}
}
