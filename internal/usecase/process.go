package usecase

import (
	"context"
	"errors"
	"fmt"

	"satcom-gateway/internal/conversation"
	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/garmin"
	"satcom-gateway/internal/logging"
	"satcom-gateway/internal/paging"
	"satcom-gateway/internal/pipeline"
)

func isShortLink(link string) bool {
	return garmin.IsShortLink(link)
}

// processTurn answers one turn: help, or toolbox then model then delivery.
func (g *Gateway) processTurn(ctx context.Context, turn domain.InboundTurn) error {
	logger := logging.From(ctx, g.logger)
	prompt := turn.PromptText

	if IsHelpRequest(prompt) {
		logger.Info("help requested")
		return g.deliver(ctx, turn.ReplyTargetURL, HelpText)
	}

	target, max := pipeline.DefaultTargetLen, pipeline.DefaultMaxLen
	if size, cleaned, ok := SizeOverride(prompt); ok {
		logger.Info("size override", "size", size)
		target, max = size, size
		prompt = cleaned
	}

	tools := g.deps.Toolbox.Gather(ctx, prompt, turn.Coordinates)
	if len(tools.FailedLabels) > 0 {
		logger.Warn("toolbox failures", "labels", tools.FailedLabels)
	}

	senderKey := conversation.SenderKey(turn.ReplyTargetURL)
	previous := ""
	if senderKey != "" {
		id, err := g.deps.Conversations.ResolveInteractionID(ctx, senderKey, prompt)
		if err != nil {
			logger.Warn("conversation lookup failed, starting fresh", "error", err)
		}
		previous = id
	}

	out, err := g.deps.Generator.Run(ctx, pipeline.Input{
		Prompt:                prompt,
		ToolContext:           tools.Context,
		PreviousInteractionID: previous,
		TargetLen:             target,
		MaxLen:                max,
	})
	if err != nil {
		return generationError(err)
	}

	if out.InteractionID != "" && senderKey != "" {
		if err := g.deps.Conversations.Record(ctx, senderKey, out.InteractionID); err != nil {
			logger.Warn("could not store interaction id", "error", err)
		}
	}
	logger.Info("final reply", "chars", len([]rune(out.FinalText)), "analysis_chars", out.AnalysisChars, "compressed", out.Compressed, "text", out.FinalText)
	return g.deliver(ctx, turn.ReplyTargetURL, out.FinalText)
}

func generationError(err error) error {
	var f *pipeline.Failure
	if !errors.As(err, &f) {
		return newError(ErrorSystem, KindRetryable, "exception", err)
	}
	switch f.Kind {
	case pipeline.FailureConfig:
		return newError(ErrorConfig, KindPermanent, "no_api_key", err)
	case pipeline.FailurePermanent:
		return newError(ErrorAI, KindPermanent, "phase1_failed", err)
	default:
		return newError(ErrorBusy, KindRetryable, "model_retryable", err)
	}
}

// deliver paginates text and sends every page in order.
func (g *Gateway) deliver(ctx context.Context, link, text string) error {
	segments := paging.Paginate(text, paging.ChunkPayload, paging.MaxPages)
	if len(segments) == 0 {
		return newError(ErrorAI, KindPermanent, "empty_reply", nil)
	}
	logging.From(ctx, g.logger).Info("paging", "chars", len([]rune(text)), "pages", len(segments))

	sent, err := g.deps.Delivery.Send(ctx, link, segments)
	if err == nil {
		return nil
	}
	reason := "send_failed"
	if len(segments) > 1 {
		reason = fmt.Sprintf("chunk_%d_failed", sent+1)
	}
	code := ErrorSend
	if errors.Is(err, garmin.ErrNoToken) || errors.Is(err, garmin.ErrNoReplyAddress) {
		code = ErrorGarmin
	}
	return newError(code, KindRetryable, reason, err)
}
