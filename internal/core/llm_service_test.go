package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autogenius.dev/car-diagnostics/internal/store"
)

// completionServer answers /chat/completions with reply and records the request body.
func completionServer(t *testing.T, reply string) (*httptest.Server, *map[string]interface{}) {
	t.Helper()
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testOpenAIClient(baseURL string) *openAIClient {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL
	return newOpenAIClient(cfg, "test-model")
}

func TestOpenAIClientSendsSampling(t *testing.T) {
	srv, captured := completionServer(t,
		`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Check the battery."},"finish_reason":"stop"}]}`)

	messages := BuildPrompt([]ChatMessage{{Role: store.RoleUser, Content: "car will not start"}}, civic)
	got, err := testOpenAIClient(srv.URL).Complete(context.Background(), messages, DiagnosisSampling)
	require.NoError(t, err)
	assert.Equal(t, "Check the battery.", got)

	req := *captured
	assert.Equal(t, "test-model", req["model"])
	assert.EqualValues(t, 1024, req["max_tokens"])
	assert.InDelta(t, 0.9, req["top_p"], 1e-6)

	temperature, ok := req["temperature"].(float64)
	require.True(t, ok, "temperature must be sent")
	assert.Greater(t, temperature, 0.0)
	assert.Less(t, temperature, 1e-30)

	sent, ok := req["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, sent, 3)
	last := sent[2].(map[string]interface{})
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "car will not start", last["content"])
}

func TestOpenAIClientKeepsExplicitTemperature(t *testing.T) {
	srv, captured := completionServer(t,
		`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)

	_, err := testOpenAIClient(srv.URL).Complete(context.Background(),
		[]ChatMessage{{Role: store.RoleUser, Content: "hi"}}, Sampling{Temperature: 0.5, TopP: 1, MaxTokens: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, (*captured)["temperature"], 1e-6)
	assert.EqualValues(t, 10, (*captured)["max_tokens"])
}

func TestOpenAIClientNoChoices(t *testing.T) {
	srv, _ := completionServer(t, `{"id":"c2","object":"chat.completion","choices":[]}`)

	_, err := testOpenAIClient(srv.URL).Complete(context.Background(),
		[]ChatMessage{{Role: store.RoleUser, Content: "hi"}}, DiagnosisSampling)
	assert.ErrorContains(t, err, "no choices")
}

func TestOpenAIClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	_, err := testOpenAIClient(srv.URL).Complete(context.Background(),
		[]ChatMessage{{Role: store.RoleUser, Content: "hi"}}, DiagnosisSampling)
	assert.ErrorContains(t, err, "chat completion request failed")
}

func TestToGeminiContents(t *testing.T) {
	messages := BuildPrompt([]ChatMessage{
		{Role: store.RoleAssistant, Content: "Hello! What issues are you experiencing?"},
		{Role: store.RoleUser, Content: "brakes squeal"},
	}, civic)

	system, history, err := toGeminiContents(messages)
	require.NoError(t, err)

	require.Len(t, system, 2)
	assert.Contains(t, string(system[0].(genai.Text)), "AutoGenius")
	assert.Contains(t, string(system[1].(genai.Text)), "Current Vehicle: 2020 Honda Civic")

	require.Len(t, history, 2)
	assert.Equal(t, "model", history[0].Role)
	assert.Equal(t, "user", history[1].Role)
	assert.Equal(t, genai.Text("brakes squeal"), history[1].Parts[0])
}

func TestToGeminiContentsRequiresUserLast(t *testing.T) {
	_, _, err := toGeminiContents([]ChatMessage{
		{Role: store.RoleUser, Content: "hi"},
		{Role: store.RoleAssistant, Content: "hello"},
	})
	assert.ErrorContains(t, err, "not from 'user'")

	_, _, err = toGeminiContents([]ChatMessage{{Role: store.RoleSystem, Content: "only system"}})
	assert.Error(t, err)
}
