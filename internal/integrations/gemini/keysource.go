package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"satcom-gateway/internal/integrations/paramstore"
)

// tokenPayload is the JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// KeySource loads the Gemini API key from Parameter Store. A successful load
// is cached for the process lifetime; failures are retried on the next call.
type KeySource struct {
	getter    Getter
	paramName string

	mu  sync.Mutex
	key string
}

// NewKeySource reads the key from "<paramPrefix>/gemini-api-key".
func NewKeySource(g Getter, paramPrefix string) (*KeySource, error) {
	if g == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	return &KeySource{getter: g, paramName: paramPrefix + "/gemini-api-key"}, nil
}

// StaticKey returns a KeySource that always yields key. Used by replay mode.
func StaticKey(key string) *KeySource {
	return &KeySource{key: key}
}

// APIKey returns the cached key, fetching it on first use.
func (k *KeySource) APIKey(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != "" {
		return k.key, nil
	}
	if k.getter == nil {
		return "", ErrKeyNotConfigured
	}

	raw, err := k.getter.GetParameter(ctx, k.paramName)
	if err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrKeyNotConfigured, err)
		}
		return "", fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("%w: unmarshal parameter value as JSON: %v", ErrKeyNotConfigured, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("%w: token is empty", ErrKeyNotConfigured)
	}
	k.key = tp.Token
	return k.key, nil
}
