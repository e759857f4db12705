// Package retry keeps a durable per-message attempt counter.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/repository"
)

const (
	keyPrefix = "RETRY_"

	// DefaultCeiling is the number of attempts a message gets before it is
	// given up on.
	DefaultCeiling = 3
	// DefaultTTL bounds how long a record survives regardless of its count.
	DefaultTTL = 7 * 24 * time.Hour
)

type record struct {
	Count     int   `json:"count"`
	Timestamp int64 `json:"timestamp"` // unix millis
}

// Ledger counts failed attempts per message id.
type Ledger struct {
	kv     repository.KeyValue
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(kv repository.KeyValue, logger *slog.Logger) (*Ledger, error) {
	if kv == nil {
		return nil, errors.New("retry: key-value store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{kv: kv, logger: logger, now: time.Now}, nil
}

func recordKey(messageID string) string {
	return keyPrefix + messageID
}

// Get returns the current attempt count, 0 when no record exists.
func (l *Ledger) Get(ctx context.Context, messageID string) (int, error) {
	rec, _, err := l.Record(ctx, messageID)
	return rec.Count, err
}

// Record returns the full record for messageID, if any.
func (l *Ledger) Record(ctx context.Context, messageID string) (domain.RetryRecord, bool, error) {
	rec, ok, err := l.load(ctx, messageID)
	if err != nil || !ok {
		return domain.RetryRecord{}, ok, err
	}
	return domain.RetryRecord{
		MessageID:     messageID,
		Count:         rec.Count,
		LastAttemptAt: time.UnixMilli(rec.Timestamp),
	}, true, nil
}

// Increment bumps the count for messageID and returns the new value. It always
// re-reads the stored record first, so it is safe from a cold process.
func (l *Ledger) Increment(ctx context.Context, messageID string) (int, error) {
	rec, _, err := l.load(ctx, messageID)
	if err != nil {
		return 0, err
	}
	rec.Count++
	rec.Timestamp = l.now().UnixMilli()

	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("retry: Increment: marshal: %w", err)
	}
	if err := l.kv.Set(ctx, recordKey(messageID), string(raw)); err != nil {
		return 0, fmt.Errorf("retry: Increment: %w", err)
	}
	l.logger.Info("retry count incremented", "message_id", messageID, "count", rec.Count)
	return rec.Count, nil
}

// Clear removes the record for messageID.
func (l *Ledger) Clear(ctx context.Context, messageID string) error {
	if err := l.kv.Delete(ctx, recordKey(messageID)); err != nil {
		return fmt.Errorf("retry: Clear: %w", err)
	}
	return nil
}

// SweepOlderThan deletes every record whose last attempt is older than d.
// Records that cannot be decoded are deleted as well. It returns the number
// of records removed.
func (l *Ledger) SweepOlderThan(ctx context.Context, d time.Duration) (int, error) {
	all, err := l.kv.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("retry: SweepOlderThan: %w", err)
	}
	cutoff := l.now().Add(-d).UnixMilli()
	removed := 0
	for key, raw := range all {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.Timestamp >= cutoff {
			continue
		}
		if err := l.kv.Delete(ctx, key); err != nil {
			l.logger.Warn("retry sweep delete failed", "key", key, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		l.logger.Info("retry sweep complete", "removed", removed)
	}
	return removed, nil
}

func (l *Ledger) load(ctx context.Context, messageID string) (record, bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return record{}, false, errors.New("retry: message id is required")
	}
	raw, ok, err := l.kv.Get(ctx, recordKey(messageID))
	if err != nil {
		return record{}, false, fmt.Errorf("retry: load %q: %w", messageID, err)
	}
	if !ok {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// Unreadable records count as absent.
		l.logger.Warn("retry record unreadable, starting over", "message_id", messageID, "error", err)
		return record{}, false, nil
	}
	return rec, true, nil
}
