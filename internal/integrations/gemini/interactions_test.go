package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestInteractions(t *testing.T, srv *httptest.Server) *InteractionsClient {
	t.Helper()
	c, err := NewInteractionsClient(StaticKey("test-key"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		WithModel("gemini-test"),
	)
	require.NoError(t, err)
	return c
}

func TestInteractionsURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://generativelanguage.googleapis.com", "https://generativelanguage.googleapis.com/v1beta/interactions?key=k%2B1"},
		{"https://generativelanguage.googleapis.com/v1beta/", "https://generativelanguage.googleapis.com/v1beta/interactions?key=k%2B1"},
		{"", "https://generativelanguage.googleapis.com/v1beta/interactions?key=k%2B1"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, interactionsURL(tc.base, "k+1"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

func TestCall_SendsFramedRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/interactions", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"int-42","status":"completed","outputs":[{"type":"thought"},{"type":"text","text":"Clean wound."},{"type":"text","text":"Seek help."}]}`))
	}))
	defer srv.Close()

	c := newTestInteractions(t, srv)
	res, err := c.Call(context.Background(), Request{
		Input:                 "how do I treat a snake bite",
		SystemInstructions:    "Be brief.",
		MaxOutputTokens:       2048,
		Temperature:           0.4,
		PreviousInteractionID: "int-41",
		Tools:                 []string{ToolGoogleSearch, ToolURLContext, "unknown"},
	})
	require.NoError(t, err)
	require.Equal(t, "Clean wound.\n\nSeek help.", res.Text)
	require.Equal(t, "int-42", res.InteractionID)

	require.Equal(t, "gemini-test", got["model"])
	require.Equal(t, "[SYSTEM INSTRUCTIONS]\nBe brief.\n[END SYSTEM INSTRUCTIONS]\n\nUser query: how do I treat a snake bite", got["input"])
	require.Equal(t, "int-41", got["previous_interaction_id"])
	require.Equal(t, true, got["store"])
	require.Equal(t, []any{"TEXT"}, got["response_modalities"])
	require.Equal(t, map[string]any{"max_output_tokens": float64(2048), "temperature": 0.4}, got["generation_config"])
	require.Equal(t, []any{
		map[string]any{"type": "google_search"},
		map[string]any{"type": "url_context"},
	}, got["tools"])
}

func TestCall_OmitsContinuationWhenAbsent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"from candidates"}]}}]}`))
	}))
	defer srv.Close()

	res, err := newTestInteractions(t, srv).Call(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	require.Equal(t, "from candidates", res.Text)
	require.Empty(t, res.InteractionID)
	require.NotContains(t, got, "previous_interaction_id")
	require.NotContains(t, got, "tools")
	require.Equal(t, "hi", got["input"])
}

func TestCall_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"The model is overloaded. Please try again later."}}`, true},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"Quota exceeded"}}`, true},
		{"bad key", http.StatusBadRequest, `{"error":{"message":"API key not valid."}}`, false},
		{"unknown", http.StatusInternalServerError, `{"error":{"message":"Internal error encountered."}}`, false},
		{"error in 200", http.StatusOK, `{"error":{"message":"rate limit reached"}}`, true},
		{"non-json 503", http.StatusServiceUnavailable, `upstream connect error`, true},
		{"unparsable 200", http.StatusOK, `<html>`, false},
		{"no text", http.StatusOK, `{"id":"x","outputs":[]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestInteractions(t, srv).Call(context.Background(), Request{Input: "hi"})
			require.Error(t, err)
			var ce *CallError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.retryable, ce.Retryable, ce.Message)
		})
	}
}

func TestCall_KeyNotConfigured(t *testing.T) {
	c, err := NewInteractionsClient(StaticKey(""))
	require.NoError(t, err)
	_, err = c.Call(context.Background(), Request{Input: "hi"})
	require.ErrorIs(t, err, ErrKeyNotConfigured)
}

func TestCall_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewInteractionsClient(StaticKey("k"), WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)
	_, err = c.Call(context.Background(), Request{Input: "hi"})
	require.True(t, IsRetryable(err), err.Error())
}

func TestCall_ConnectionRefusedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := NewInteractionsClient(StaticKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Call(context.Background(), Request{Input: "hi"})
	require.Error(t, err)

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.False(t, ce.Retryable, err.Error())
}

func TestNewInteractionsClient_Defaults(t *testing.T) {
	_, err := NewInteractionsClient(nil)
	require.ErrorContains(t, err, "nil")

	c, err := NewInteractionsClient(StaticKey("k"), WithModel("  "), WithLogger(nil))
	require.NoError(t, err)
	require.Equal(t, defaultModel, c.model)
	require.Equal(t, defaultBaseURL, c.baseURL)
}
