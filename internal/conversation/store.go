// Package conversation tracks the last model interaction per sender so a
// follow-up message can continue the same thread.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/repository"
)

const (
	keyPrefix = "INTERACTION_"

	// DefaultExpiry is how long a conversation stays resumable.
	DefaultExpiry = 24 * time.Hour
)

var (
	resetExact = map[string]struct{}{
		"NEW":              {},
		"RESET":            {},
		"FRESH":            {},
		"START OVER":       {},
		"NEW CONVERSATION": {},
	}
	resetPrefix = regexp.MustCompile(`^(NEW|RESET|FRESH)\b`)
	adrParam    = regexp.MustCompile(`adr=([^&\s]+)`)
	extIDParam  = regexp.MustCompile(`extId=([a-zA-Z0-9\-]+)`)

	errUnreadable = errors.New("state unreadable")
)

type state struct {
	InteractionID string `json:"interactionId"`
	Timestamp     int64  `json:"timestamp"` // unix millis
}

// Store is the durable per-sender interaction pointer.
type Store struct {
	kv     repository.KeyValue
	expiry time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(kv repository.KeyValue, expiry time.Duration, logger *slog.Logger) (*Store, error) {
	if kv == nil {
		return nil, errors.New("conversation: key-value store must not be nil")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, expiry: expiry, logger: logger, now: time.Now}, nil
}

func stateKey(senderKey string) string {
	return keyPrefix + senderKey
}

// IsResetRequest reports whether prompt asks for a fresh conversation.
func IsResetRequest(prompt string) bool {
	p := strings.ToUpper(strings.TrimSpace(prompt))
	if _, ok := resetExact[p]; ok {
		return true
	}
	return resetPrefix.MatchString(p)
}

// ResolveInteractionID returns the interaction id to continue from, or "" to
// start fresh. A reset request or an expired entry deletes the stored state.
func (s *Store) ResolveInteractionID(ctx context.Context, senderKey, prompt string) (string, error) {
	if senderKey == "" {
		return "", nil
	}
	if IsResetRequest(prompt) {
		s.logger.Info("conversation reset requested", "sender_key", senderKey)
		return "", s.clear(ctx, senderKey)
	}

	st, ok, err := s.Load(ctx, senderKey)
	if errors.Is(err, errUnreadable) || (ok && st.InteractionID == "") {
		s.logger.Warn("conversation state unreadable", "sender_key", senderKey)
		return "", s.clear(ctx, senderKey)
	}
	if err != nil {
		return "", fmt.Errorf("conversation: ResolveInteractionID: %w", err)
	}
	if !ok {
		return "", nil
	}
	age := s.now().Sub(st.UpdatedAt)
	if age > s.expiry {
		s.logger.Info("conversation expired", "sender_key", senderKey, "age_hours", int(age.Hours()))
		return "", s.clear(ctx, senderKey)
	}
	return st.InteractionID, nil
}

// Load returns the stored state for senderKey without any expiry handling.
func (s *Store) Load(ctx context.Context, senderKey string) (domain.ConversationState, bool, error) {
	raw, ok, err := s.kv.Get(ctx, stateKey(senderKey))
	if err != nil || !ok {
		return domain.ConversationState{}, false, err
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("conversation: Load: %w: %v", errUnreadable, err)
	}
	return domain.ConversationState{
		SenderKey:     senderKey,
		InteractionID: st.InteractionID,
		UpdatedAt:     time.UnixMilli(st.Timestamp),
	}, true, nil
}

// Record overwrites the state for senderKey with interactionID.
func (s *Store) Record(ctx context.Context, senderKey, interactionID string) error {
	if senderKey == "" || interactionID == "" {
		return nil
	}
	raw, err := json.Marshal(state{InteractionID: interactionID, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("conversation: Record: marshal: %w", err)
	}
	if err := s.kv.Set(ctx, stateKey(senderKey), string(raw)); err != nil {
		return fmt.Errorf("conversation: Record: %w", err)
	}
	return nil
}

// CleanupExpired deletes expired and unreadable states and returns how many
// were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	all, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("conversation: CleanupExpired: %w", err)
	}
	now := s.now()
	cleaned := 0
	for key, raw := range all {
		var st state
		if err := json.Unmarshal([]byte(raw), &st); err == nil && now.Sub(time.UnixMilli(st.Timestamp)) <= s.expiry {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			s.logger.Warn("conversation cleanup delete failed", "key", key, "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		s.logger.Info("expired conversations cleaned", "removed", cleaned)
	}
	return cleaned, nil
}

func (s *Store) clear(ctx context.Context, senderKey string) error {
	if err := s.kv.Delete(ctx, stateKey(senderKey)); err != nil {
		return fmt.Errorf("conversation: clear: %w", err)
	}
	return nil
}

// SenderKey derives a stable, non-reversible key from a reply URL. The adr
// query value is preferred, falling back to extId. It returns "" when the URL
// carries neither.
func SenderKey(replyURL string) string {
	if m := adrParam.FindStringSubmatch(replyURL); m != nil {
		addr, err := url.QueryUnescape(m[1])
		if err != nil {
			addr = m[1]
		}
		return hashKey(strings.ToLower(addr))
	}
	if m := extIDParam.FindStringSubmatch(replyURL); m != nil {
		return hashKey(m[1])
	}
	return ""
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return "SENDER_" + hex.EncodeToString(sum[:])[:24]
}
