package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"satcom-gateway/internal/integrations/paramstore"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val      string
	err      error
	calls    int
	lastName string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.lastName = name
	return f.val, f.err
}

func TestKeySource_CachesSuccess(t *testing.T) {
	g := &fakeGetter{val: `{"token":"AIza-test"}`}
	ks, err := NewKeySource(g, "/satcom/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := ks.APIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "AIza-test", key)
	}
	require.Equal(t, 1, g.calls)
	require.Equal(t, "/satcom/gemini-api-key", g.lastName)
}

func TestKeySource_FailuresAreNotCached(t *testing.T) {
	g := &fakeGetter{err: errors.New("ThrottlingException")}
	ks, err := NewKeySource(g, "/satcom")
	require.NoError(t, err)

	_, err = ks.APIKey(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrKeyNotConfigured)
	require.ErrorIs(t, err, ErrKeyUnavailable)
	require.ErrorIs(t, err, g.err)

	g.err = nil
	g.val = `{"token":"AIza-later"}`
	key, err := ks.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AIza-later", key)
	require.Equal(t, 2, g.calls)
}

func TestKeySource_NotConfigured(t *testing.T) {
	cases := map[string]*fakeGetter{
		"missing parameter": {err: fmt.Errorf("%w: %q", paramstore.ErrNotFound, "/satcom/gemini-api-key")},
		"malformed json":    {val: `{"broken`},
		"empty token":       {val: `{"other":"value"}`},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			ks, err := NewKeySource(g, "/satcom")
			require.NoError(t, err)
			_, err = ks.APIKey(context.Background())
			require.ErrorIs(t, err, ErrKeyNotConfigured)
		})
	}
}

func TestKeySource_Static(t *testing.T) {
	key, err := StaticKey("k").APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k", key)

	_, err = StaticKey("").APIKey(context.Background())
	require.ErrorIs(t, err, ErrKeyNotConfigured)
}

func TestNewKeySource_Validation(t *testing.T) {
	_, err := NewKeySource(nil, "/satcom")
	require.ErrorContains(t, err, "nil")
	_, err = NewKeySource(&fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}
