package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/logging"
	"satcom-gateway/internal/pipeline"
	"satcom-gateway/internal/retry"
	"satcom-gateway/internal/toolbox"
)

const (
	defaultBatchSize        = 10
	defaultSweepProbability = 0.1
)

type Inbox interface {
	Pending(ctx context.Context, limit int) ([]domain.InboundMessage, error)
	MarkProcessed(ctx context.Context, messageID string, outcome domain.Outcome) error
}

type RetryLedger interface {
	Get(ctx context.Context, messageID string) (int, error)
	Increment(ctx context.Context, messageID string) (int, error)
	Clear(ctx context.Context, messageID string) error
	SweepOlderThan(ctx context.Context, d time.Duration) (int, error)
}

type ConversationStore interface {
	ResolveInteractionID(ctx context.Context, senderKey, prompt string) (string, error)
	Record(ctx context.Context, senderKey, interactionID string) error
	CleanupExpired(ctx context.Context) (int, error)
}

type ContextGatherer interface {
	Gather(ctx context.Context, prompt string, coords *domain.Coordinates) toolbox.Result
}

type Generator interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

// Deliverer sends text back to the device behind a reply link.
type Deliverer interface {
	Resolve(ctx context.Context, link, recipient string) (string, error)
	Post(ctx context.Context, link, message string) error
	Send(ctx context.Context, link string, segments []domain.DeliverySegment) (int, error)
}

// Dependencies are the collaborators a Gateway drives.
type Dependencies struct {
	Inbox         Inbox
	Ledger        RetryLedger
	Conversations ConversationStore
	Toolbox       ContextGatherer
	Generator     Generator
	Delivery      Deliverer
}

type Config struct {
	MaxRetries       int
	RetryTTL         time.Duration
	BatchSize        int
	SweepProbability float64
}

// Gateway is the ingestion coordinator: it takes pending inbox messages to a
// terminal outcome, one at a time.
type Gateway struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
	random func() float64
}

// BatchReport summarizes one RunBatch call.
type BatchReport struct {
	RunID    string                 `json:"runId"`
	Pending  int                    `json:"pending"`
	Outcomes map[domain.Outcome]int `json:"outcomes"`
	Swept    *SweepReport           `json:"swept,omitempty"`
}

type SweepReport struct {
	Retries       int `json:"retries"`
	Conversations int `json:"conversations"`
}

func NewGateway(deps Dependencies, cfg Config, logger *slog.Logger) (*Gateway, error) {
	switch {
	case deps.Inbox == nil:
		return nil, errors.New("usecase: inbox must not be nil")
	case deps.Ledger == nil:
		return nil, errors.New("usecase: retry ledger must not be nil")
	case deps.Conversations == nil:
		return nil, errors.New("usecase: conversation store must not be nil")
	case deps.Toolbox == nil:
		return nil, errors.New("usecase: toolbox must not be nil")
	case deps.Generator == nil:
		return nil, errors.New("usecase: generator must not be nil")
	case deps.Delivery == nil:
		return nil, errors.New("usecase: delivery must not be nil")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = retry.DefaultCeiling
	}
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = retry.DefaultTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SweepProbability < 0 {
		cfg.SweepProbability = defaultSweepProbability
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{deps: deps, cfg: cfg, logger: logger, random: rand.Float64}, nil
}

// RunBatch processes up to BatchSize pending messages sequentially. A failure
// on one message never stops the rest; only a failed inbox read is an error.
func (g *Gateway) RunBatch(ctx context.Context) (BatchReport, error) {
	report := BatchReport{RunID: newUUID(), Outcomes: map[domain.Outcome]int{}}
	logger := g.logger.With("run_id", report.RunID)
	ctx = logging.With(ctx, logger)

	pending, err := g.deps.Inbox.Pending(ctx, g.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("usecase: RunBatch: %w", err)
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	if g.random() < g.cfg.SweepProbability {
		sweep, err := g.Sweep(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
		}
		report.Swept = &sweep
	}

	seen := make(map[string]struct{}, len(pending))
	for _, msg := range pending {
		if _, dup := seen[msg.ID]; dup {
			report.Outcomes[domain.OutcomeDuplicateSkipped]++
			continue
		}
		seen[msg.ID] = struct{}{}
		report.Outcomes[g.ProcessMessage(ctx, msg)]++
	}
	logger.Info("batch complete", "pending", report.Pending, "outcomes", report.Outcomes)
	return report, nil
}

// Sweep drops stale retry records and expired conversations.
func (g *Gateway) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error
	n, err := g.deps.Ledger.SweepOlderThan(ctx, g.cfg.RetryTTL)
	if err != nil {
		errs = append(errs, err)
	}
	report.Retries = n
	n, err = g.deps.Conversations.CleanupExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.Conversations = n
	logging.From(ctx, g.logger).Info("sweep complete", "retries", report.Retries, "conversations", report.Conversations)
	return report, errors.Join(errs...)
}

// ProcessMessage runs one inbox message to an outcome and performs exactly
// one of: close it, count a failed attempt, or leave it for a later run.
func (g *Gateway) ProcessMessage(ctx context.Context, msg domain.InboundMessage) domain.Outcome {
	logger := logging.From(ctx, g.logger).With("message_id", msg.ID)
	ctx = logging.With(ctx, logger)

	attempts, err := g.deps.Ledger.Get(ctx, msg.ID)
	if err != nil {
		logger.Error("retry ledger unavailable, leaving message for next run", "error", err)
		return domain.OutcomeRetryScheduled
	}
	if attempts >= g.cfg.MaxRetries {
		logger.Warn("retry ceiling already reached, closing without another attempt", "attempts", attempts)
		return g.close(ctx, msg.ID, domain.OutcomeRetriesExhausted)
	}

	turn, err := ParseTurn(msg)
	if err != nil {
		logger.Info("ignoring message", "reason", err)
		return g.close(ctx, msg.ID, domain.OutcomeIgnored)
	}

	logger = logger.With("log_id", logID(turn.ReplyTargetURL))
	ctx = logging.With(ctx, logger)
	logger.Info("ingest", "attempt", attempts+1, "max_attempts", g.cfg.MaxRetries, "prompt", turn.PromptText, "has_coordinates", turn.Coordinates != nil)

	turn = g.resolveLink(ctx, turn)
	return g.settle(ctx, turn, g.runTurn(ctx, turn))
}

func (g *Gateway) resolveLink(ctx context.Context, turn domain.InboundTurn) domain.InboundTurn {
	if !isShortLink(turn.ReplyTargetURL) {
		return turn
	}
	resolved, err := g.deps.Delivery.Resolve(ctx, turn.ReplyTargetURL, turn.SenderAddress)
	if err != nil {
		logging.From(ctx, g.logger).Warn("short link resolution failed", "error", err)
	}
	turn.ReplyTargetURL = resolved
	return turn
}

// runTurn recovers panics so one bad turn cannot take down the batch.
func (g *Gateway) runTurn(ctx context.Context, turn domain.InboundTurn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrorSystem, KindRetryable, "exception", fmt.Errorf("panic: %v", r))
		}
	}()
	return g.processTurn(ctx, turn)
}

// settle applies the retry policy to the result of one attempt.
func (g *Gateway) settle(ctx context.Context, turn domain.InboundTurn, err error) domain.Outcome {
	logger := logging.From(ctx, g.logger)
	if err == nil {
		return g.close(ctx, turn.MessageID, domain.OutcomeSuccess)
	}

	var ue *Error
	if !errors.As(err, &ue) {
		ue = newError(ErrorSystem, KindRetryable, "exception", err)
	}

	if !ue.Retryable() {
		logger.Error("turn failed permanently", "code", ue.Code, "reason", ue.Reason, "error", err)
		g.notify(ctx, turn.ReplyTargetURL, ue.UserText())
		g.reportFailure(ctx, turn, ue.Reason)
		return g.close(ctx, turn.MessageID, domain.OutcomePermanentFailure)
	}

	count, incErr := g.deps.Ledger.Increment(ctx, turn.MessageID)
	if incErr != nil {
		logger.Error("could not record failed attempt", "error", incErr, "cause", err)
		return domain.OutcomeRetryScheduled
	}
	if count < g.cfg.MaxRetries {
		logger.Warn("turn failed, will retry", "code", ue.Code, "reason", ue.Reason, "attempt", count, "max_attempts", g.cfg.MaxRetries, "error", err)
		return domain.OutcomeRetryScheduled
	}

	notice := ErrorRetry
	if ue.Code == ErrorSystem {
		notice = ErrorSystem
	}
	logger.Error("retries exhausted", "code", ue.Code, "reason", ue.Reason, "attempts", count, "error", err)
	g.notify(ctx, turn.ReplyTargetURL, UserText(notice))
	g.reportFailure(ctx, turn, "MAX_RETRIES:"+ue.Reason)
	return g.close(ctx, turn.MessageID, domain.OutcomeRetriesExhausted)
}

// close marks the message processed and drops its retry record.
func (g *Gateway) close(ctx context.Context, messageID string, outcome domain.Outcome) domain.Outcome {
	logger := logging.From(ctx, g.logger)
	if err := g.deps.Inbox.MarkProcessed(ctx, messageID, outcome); err != nil {
		logger.Error("mark processed failed", "outcome", outcome, "error", err)
	}
	if err := g.deps.Ledger.Clear(ctx, messageID); err != nil {
		logger.Error("clear retry record failed", "error", err)
	}
	return outcome
}

// notify is best-effort; a failed notice never changes the turn's outcome.
func (g *Gateway) notify(ctx context.Context, link, text string) {
	logger := logging.From(ctx, g.logger)
	logger.Info("error to user", "text", text)
	if err := g.deps.Delivery.Post(ctx, link, text); err != nil {
		logger.Error("error notice delivery failed", "error", err)
	}
}

func (g *Gateway) reportFailure(ctx context.Context, turn domain.InboundTurn, reason string) {
	logging.From(ctx, g.logger).Error("failure logged", "prompt", turn.PromptText, "reason", reason, "at", time.Now().UTC().Format(time.RFC3339))
}

var newUUID = func() string {
	return uuid.NewString()
}
