package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"satcom-gateway/internal/integrations/gemini"
)

type fakeModel struct {
	results []gemini.Result
	errs    []error
	calls   []gemini.Request
}

func (f *fakeModel) Call(_ context.Context, req gemini.Request) (gemini.Result, error) {
	i := len(f.calls)
	f.calls = append(f.calls, req)
	var res gemini.Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func newTestPipeline(t *testing.T, analyzer, compressor *fakeModel) *Pipeline {
	t.Helper()
	p, err := New(analyzer, compressor, nil)
	require.NoError(t, err)
	return p
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_TwoPhaseSuccess(t *testing.T) {
	analyzer := &fakeModel{results: []gemini.Result{{Text: "Long analysis of snake bite care.", InteractionID: "int-9"}}}
	compressor := &fakeModel{results: []gemini.Result{{Text: "**IMMED:** keep limb still, below heart. NO cut/suck/ice. SOS now."}}}
	p := newTestPipeline(t, analyzer, compressor)

	out, err := p.Run(context.Background(), Input{
		Prompt:                "how do I treat a snake bite",
		ToolContext:           "[LOCATION]\nCoordinates: 45.3, -122.2",
		PreviousInteractionID: "int-8",
	})
	require.NoError(t, err)
	require.Equal(t, "IMMED: keep limb still, below heart. NO cut/suck/ice. SOS now.", out.FinalText)
	require.Equal(t, "int-9", out.InteractionID)
	require.Equal(t, len("Long analysis of snake bite care."), out.AnalysisChars)
	require.True(t, out.Compressed)

	require.Len(t, analyzer.calls, 1)
	a := analyzer.calls[0]
	require.Equal(t, "how do I treat a snake bite", a.Input)
	require.Equal(t, "int-8", a.PreviousInteractionID)
	require.Equal(t, 2048, a.MaxOutputTokens)
	require.InDelta(t, 0.4, a.Temperature, 1e-9)
	require.Equal(t, []string{gemini.ToolGoogleSearch, gemini.ToolURLContext}, a.Tools)
	require.Contains(t, a.SystemInstructions, "Tool results (if any) appear below:\n[LOCATION]\nCoordinates: 45.3, -122.2")

	require.Len(t, compressor.calls, 1)
	c := compressor.calls[0]
	require.Equal(t, "Long analysis of snake bite care.", c.Input)
	require.Empty(t, c.PreviousInteractionID)
	require.Empty(t, c.Tools)
	require.Equal(t, 1024, c.MaxOutputTokens)
	require.Contains(t, c.SystemInstructions, "TARGET: 150 chars. MAX: 450 chars.")
}

func TestRun_EmptyToolContextPlaceholder(t *testing.T) {
	analyzer := &fakeModel{results: []gemini.Result{{Text: "a"}}}
	compressor := &fakeModel{results: []gemini.Result{{Text: "b"}}}
	_, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "hi"})
	require.NoError(t, err)
	require.Contains(t, analyzer.calls[0].SystemInstructions, "appear below:\n(No additional context)\n")
}

func TestRun_SizeOverrideReachesCompressPrompt(t *testing.T) {
	analyzer := &fakeModel{results: []gemini.Result{{Text: "a"}}}
	compressor := &fakeModel{results: []gemini.Result{{Text: "b"}}}
	_, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "hi", TargetLen: 800, MaxLen: 800})
	require.NoError(t, err)
	require.Contains(t, compressor.calls[0].SystemInstructions, "TARGET: 800 chars. MAX: 800 chars.")
}

func TestRun_CompressionFailureFallsBackToTruncation(t *testing.T) {
	analysis := strings.Repeat("Boil water 1 min. ", 40)
	analyzer := &fakeModel{results: []gemini.Result{{Text: analysis, InteractionID: "int-1"}}}
	compressor := &fakeModel{errs: []error{&gemini.CallError{Message: "overloaded", Retryable: true}}}

	out, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "water"})
	require.NoError(t, err)
	require.False(t, out.Compressed)
	require.Equal(t, "int-1", out.InteractionID)
	require.LessOrEqual(t, len([]rune(out.FinalText)), DefaultMaxLen)
	require.True(t, strings.HasSuffix(out.FinalText, "."), out.FinalText)
}

func TestRun_OverMaxIsTruncated(t *testing.T) {
	analyzer := &fakeModel{results: []gemini.Result{{Text: "x"}}}
	compressor := &fakeModel{results: []gemini.Result{{Text: strings.Repeat("word ", 200)}}}

	out, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "q", MaxLen: 200})
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(out.FinalText)), 200)
	require.True(t, strings.HasSuffix(out.FinalText, "..."))
}

func TestRun_EmptyAfterFormattingFallsBackToAnalysis(t *testing.T) {
	analyzer := &fakeModel{results: []gemini.Result{{Text: "**Boil** water 1 min. Filter first."}}}
	compressor := &fakeModel{results: []gemini.Result{{Text: "**  **"}}}

	out, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "water"})
	require.NoError(t, err)
	require.Equal(t, "Boil water 1 min. Filter first.", out.FinalText)
}

func TestRun_AnalysisFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"retryable", &gemini.CallError{Message: "The model is overloaded.", Retryable: true}, FailureRetryable},
		{"permanent", &gemini.CallError{Message: "API key not valid", Retryable: false}, FailurePermanent},
		{"config", fmt.Errorf("%w: token is empty", gemini.ErrKeyNotConfigured), FailureConfig},
		{"key store unreachable", fmt.Errorf("%w: %w", gemini.ErrKeyUnavailable, errors.New("ThrottlingException")), FailureRetryable},
		{"unclassified", errors.New("unexpected end of JSON input"), FailurePermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			analyzer := &fakeModel{errs: []error{tc.err}}
			compressor := &fakeModel{}
			_, err := newTestPipeline(t, analyzer, compressor).Run(context.Background(), Input{Prompt: "q"})
			var f *Failure
			require.ErrorAs(t, err, &f)
			require.Equal(t, tc.want, f.Kind)
			require.ErrorIs(t, err, tc.err)
			require.Empty(t, compressor.calls, "compression must not run after a failed analysis")
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &fakeModel{}, nil)
	require.ErrorContains(t, err, "analyzer")
	_, err = New(&fakeModel{}, nil, nil)
	require.ErrorContains(t, err, "compressor")
}
