package specialistadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relaycore/internal/provideradapter"
)

func TestCall_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(chatResponse{
			Content:      "hello back",
			FinishReason: "stop",
			Model:        "specialist-v1",
		})
	}))
	defer server.Close()

	a := New(Config{ProviderID: "specialist", APIKey: "test-key", BaseURL: server.URL})
	resp, err := a.Call(context.Background(), provideradapter.Request{
		Model:    "specialist-v1",
		Messages: []provideradapter.Message{{Role: "user", Content: "hi"}},
	}, time.Now().Add(5*time.Second))

	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, "specialist-v1", resp.ModelUsed)
	assert.True(t, a.Health(context.Background()).Healthy)
}

func TestCall_RateLimitedClassifiesAsQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	a := New(Config{ProviderID: "specialist", APIKey: "k", BaseURL: server.URL})
	_, err := a.Call(context.Background(), provideradapter.Request{Model: "m"}, time.Now().Add(2*time.Second))
	require.Error(t, err)

	ce, ok := err.(*provideradapter.CallError)
	require.True(t, ok)
	assert.Equal(t, provideradapter.ErrorQuota, ce.Class)
	assert.False(t, a.Health(context.Background()).Healthy)
}

func TestCall_ServerErrorRetriesOnceThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{Content: "recovered", Model: "m"})
	}))
	defer server.Close()

	a := New(Config{ProviderID: "specialist", APIKey: "k", BaseURL: server.URL})
	resp, err := a.Call(context.Background(), provideradapter.Request{Model: "m"}, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, attempts)
}

func TestCall_BadRequestIsNonRetryable(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	a := New(Config{ProviderID: "specialist", APIKey: "k", BaseURL: server.URL})
	_, err := a.Call(context.Background(), provideradapter.Request{Model: "m"}, time.Now().Add(5*time.Second))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	ce, ok := err.(*provideradapter.CallError)
	require.True(t, ok)
	assert.Equal(t, provideradapter.ErrorNonRetryable, ce.Class)
}

func TestSupports(t *testing.T) {
	a := New(Config{ProviderID: "specialist", Capabilities: map[string]bool{"code-generation": true}})
	assert.True(t, a.Supports("code-generation"))
	assert.False(t, a.Supports("vision"))
}
