package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/logging"
	"satcom-gateway/internal/mailparse"
	"satcom-gateway/internal/usecase"
)

const (
	detailScheduled = "Scheduled Event"
	detailPoll      = "gateway.poll"
	detailSweep     = "gateway.sweep"

	sourceSNS        = "aws:sns"
	notificationMail = "Received"
	encodingBase64   = "BASE64"

	errorUnsupported = "UNSUPPORTED_EVENT"
	errorInternal    = "INTERNAL"
)

// Gateway is the part of usecase.Gateway the handler drives.
type Gateway interface {
	RunBatch(ctx context.Context) (usecase.BatchReport, error)
	Sweep(ctx context.Context) (usecase.SweepReport, error)
}

type Inbox interface {
	Enqueue(ctx context.Context, msg domain.InboundMessage) (bool, error)
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type ingestResponse struct {
	Enqueued   int `json:"enqueued"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// sesNotification is the SES "Received" notification SNS delivers when the
// receipt rule includes the raw message content.
type sesNotification struct {
	NotificationType string                    `json:"notificationType"`
	Mail             events.SimpleEmailMessage `json:"mail"`
	Receipt          struct {
		Action struct {
			Type     string `json:"type"`
			Encoding string `json:"encoding"`
		} `json:"action"`
	} `json:"receipt"`
	Content string `json:"content"`
}

// envelope is just enough of any supported event to pick a route.
type envelope struct {
	Records []struct {
		EventSource string `json:"EventSource"`
	} `json:"Records"`
	DetailType string `json:"detail-type"`
}

type Handler struct {
	gateway Gateway
	inbox   Inbox
	trusted map[string]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler builds the Lambda entry point. An empty trustedSenders list
// accepts mail from any sender.
func NewHandler(gateway Gateway, inbox Inbox, trustedSenders []string, logger *slog.Logger) (*Handler, error) {
	if gateway == nil {
		return nil, errors.New("handler: gateway must not be nil")
	}
	if inbox == nil {
		return nil, errors.New("handler: inbox must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	trusted := make(map[string]struct{}, len(trustedSenders))
	for _, s := range trustedSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			trusted[s] = struct{}{}
		}
	}
	return &Handler{gateway: gateway, inbox: inbox, trusted: trusted, logger: logger, now: time.Now}, nil
}

// Handle routes a raw Lambda payload: SNS mail notifications are enqueued,
// scheduled events run a batch or the sweeps.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	correlationID := newCorrelationID()
	logger := h.logger.With("correlation_id", correlationID)
	ctx = logging.With(ctx, logger)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("unreadable event", "error", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: errorUnsupported}), nil
	}

	switch {
	case len(env.Records) > 0 && env.Records[0].EventSource == sourceSNS:
		var event events.SNSEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: errorUnsupported}), nil
		}
		out, err := h.ingest(ctx, event)
		if err != nil {
			// Returning the error makes SNS redeliver; Enqueue is idempotent.
			return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: errorInternal}), err
		}
		return jsonResponse(http.StatusOK, correlationID, out), nil

	case env.DetailType == detailScheduled || env.DetailType == detailPoll:
		report, err := h.gateway.RunBatch(ctx)
		if err != nil {
			logger.Error("batch failed", "error", err)
			return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: errorInternal}), nil
		}
		return jsonResponse(http.StatusOK, correlationID, report), nil

	case env.DetailType == detailSweep:
		report, err := h.gateway.Sweep(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: errorInternal}), nil
		}
		return jsonResponse(http.StatusOK, correlationID, report), nil
	}

	logger.Warn("unsupported event", "detail_type", env.DetailType)
	return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: errorUnsupported}), nil
}

func (h *Handler) ingest(ctx context.Context, event events.SNSEvent) (ingestResponse, error) {
	logger := logging.From(ctx, h.logger)
	var out ingestResponse
	for _, rec := range event.Records {
		msg, ok := h.inboundMessage(logger, rec.SNS.Message)
		if !ok {
			out.Rejected++
			continue
		}
		added, err := h.inbox.Enqueue(ctx, msg)
		if err != nil {
			return out, fmt.Errorf("handler: enqueue %s: %w", msg.ID, err)
		}
		if !added {
			out.Duplicates++
			logger.Info("duplicate notification", "message_id", msg.ID)
			continue
		}
		out.Enqueued++
		logger.Info("message enqueued", "message_id", msg.ID, "from", msg.From)
	}
	return out, nil
}

func (h *Handler) inboundMessage(logger *slog.Logger, payload string) (domain.InboundMessage, bool) {
	var n sesNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		logger.Warn("not an SES notification", "error", err)
		return domain.InboundMessage{}, false
	}
	if n.NotificationType != notificationMail || n.Content == "" {
		logger.Warn("notification without mail content", "type", n.NotificationType)
		return domain.InboundMessage{}, false
	}

	content := []byte(n.Content)
	if strings.EqualFold(n.Receipt.Action.Encoding, encodingBase64) {
		decoded, err := base64.StdEncoding.DecodeString(n.Content)
		if err != nil {
			logger.Warn("bad base64 mail content", "error", err)
			return domain.InboundMessage{}, false
		}
		content = decoded
	}

	msg, err := mailparse.Parse(content, h.now())
	if err != nil {
		logger.Warn("unparseable mail", "ses_message_id", n.Mail.MessageID, "error", err)
		return domain.InboundMessage{}, false
	}
	if n.Mail.MessageID != "" {
		msg.ID = n.Mail.MessageID
	}
	if msg.ID == "" {
		logger.Warn("mail without message id")
		return domain.InboundMessage{}, false
	}
	if !h.isTrusted(msg.From) {
		logger.Warn("untrusted sender", "message_id", msg.ID, "from", msg.From)
		return domain.InboundMessage{}, false
	}
	return msg, true
}

func (h *Handler) isTrusted(from string) bool {
	if len(h.trusted) == 0 {
		return true
	}
	_, ok := h.trusted[strings.ToLower(strings.TrimSpace(from))]
	return ok
}

func jsonResponse(status int, correlationID string, body any) Response {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"` + errorInternal + `"}`)
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(b),
	}
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
