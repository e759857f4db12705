// Package pipeline runs the two model calls that turn a prompt into a short
// satellite reply: a full analysis with tools and continuation, then a
// stateless compression pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"satcom-gateway/internal/integrations/gemini"
	"satcom-gateway/internal/logging"
	"satcom-gateway/internal/paging"
)

const (
	DefaultTargetLen = 150
	DefaultMaxLen    = 450
	SizeCap          = 2000

	analyzeMaxTokens   = 2048
	analyzeTemperature = 0.4
	compressMaxTokens  = 1024
	compressTemp       = 0.1
)

// ModelClient is one model backend call.
type ModelClient interface {
	Call(ctx context.Context, req gemini.Request) (gemini.Result, error)
}

type FailureKind string

const (
	FailureRetryable FailureKind = "RETRYABLE"
	FailurePermanent FailureKind = "PERMANENT"
	FailureConfig    FailureKind = "CONFIG"
)

// Failure is returned by Run when the analysis call fails.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Input struct {
	Prompt                string
	ToolContext           string
	PreviousInteractionID string
	TargetLen             int
	MaxLen                int
}

type Output struct {
	FinalText     string
	InteractionID string
	AnalysisChars int
	// Compressed is false when the compression call failed and the analysis
	// was truncated locally instead.
	Compressed bool
}

type Pipeline struct {
	analyzer   ModelClient
	compressor ModelClient
	logger     *slog.Logger
}

func New(analyzer, compressor ModelClient, logger *slog.Logger) (*Pipeline, error) {
	if analyzer == nil {
		return nil, errors.New("pipeline: analyzer must not be nil")
	}
	if compressor == nil {
		return nil, errors.New("pipeline: compressor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{analyzer: analyzer, compressor: compressor, logger: logger}, nil
}

// Run produces the final reply text. Only an analysis failure is an error;
// a compression failure falls back to truncating the analysis.
func (p *Pipeline) Run(ctx context.Context, in Input) (Output, error) {
	target, max := in.TargetLen, in.MaxLen
	if target <= 0 {
		target = DefaultTargetLen
	}
	if max <= 0 {
		max = DefaultMaxLen
	}
	logger := logging.From(ctx, p.logger)

	analysis, err := p.analyzer.Call(ctx, gemini.Request{
		Input:                 in.Prompt,
		SystemInstructions:    buildAnalyzePrompt(in.ToolContext),
		MaxOutputTokens:       analyzeMaxTokens,
		Temperature:           analyzeTemperature,
		PreviousInteractionID: in.PreviousInteractionID,
		Tools:                 []string{gemini.ToolGoogleSearch, gemini.ToolURLContext},
	})
	if err != nil {
		kind := classify(err)
		attrs := []any{"kind", kind, "error", err}
		var sc httpStatusCoder
		if errors.As(err, &sc) && sc.HTTPStatusCode() != 0 {
			attrs = append(attrs, "status", sc.HTTPStatusCode())
		}
		logger.Error("analysis failed", attrs...)
		return Output{}, &Failure{Kind: kind, Err: err}
	}
	logger.Info("analysis complete", "chars", len([]rune(analysis.Text)), "interaction_id_present", analysis.InteractionID != "")

	out := Output{InteractionID: analysis.InteractionID, AnalysisChars: len([]rune(analysis.Text))}

	var compressed string
	res, err := p.compressor.Call(ctx, gemini.Request{
		Input:              analysis.Text,
		SystemInstructions: buildCompressPrompt(target, max),
		MaxOutputTokens:    compressMaxTokens,
		Temperature:        compressTemp,
	})
	if err != nil {
		logger.Warn("compression failed, truncating analysis", "error", err)
		compressed = paging.SmartTruncate(analysis.Text, max)
	} else {
		compressed = res.Text
		out.Compressed = true
	}

	final := StripFormatting(compressed)
	if n := len([]rune(final)); n > max {
		logger.Info("over absolute max, truncating", "chars", n, "max", max)
		final = paging.SmartTruncate(final, max)
	}
	if final == "" {
		logger.Warn("reply empty after formatting, truncating analysis")
		final = paging.SmartTruncate(StripFormatting(analysis.Text), max)
		if final == "" {
			final = paging.SmartTruncate(analysis.Text, max)
		}
	}
	out.FinalText = final
	return out, nil
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// classify maps an analysis error to a failure kind. Errors the client did
// not mark as retryable are permanent, except a key store that could not be
// reached.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, gemini.ErrKeyNotConfigured):
		return FailureConfig
	case gemini.IsRetryable(err), errors.Is(err, gemini.ErrKeyUnavailable):
		return FailureRetryable
	default:
		return FailurePermanent
	}
}
