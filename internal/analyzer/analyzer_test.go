package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
)

const analysisJSON = `{
  "meetingSummary": "The team agreed to ship the beta on Friday.",
  "identifiedSpeakers": ["S0", "S1"],
  "discussionPoints": ["beta scope"],
  "actionItems": [{"task": "Write release notes", "assignedTo": "S1", "dueDate": null}],
  "nextSteps": ["ship beta"],
  "decisionsMade": ["ship on Friday"],
  "questionsRaised": [{"question": "Who owns QA?", "askedBy": "S0"}]
}`

func openAIConfig(endpoint string) config.OpenAI {
	return config.OpenAI{
		Endpoint:   endpoint + "/",
		Key:        "openai-key",
		Deployment: "gpt-4o-notetaker",
		APIVersion: "2024-02-01",
		Timeout:    5 * time.Second,
	}
}

func chatServer(t *testing.T, content string, pingStatus int, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "openai-key", r.Header.Get("api-key"))
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))

		switch r.URL.Path {
		case "/openai/status":
			w.WriteHeader(pingStatus)
		case "/openai/deployments/gpt-4o-notetaker/chat/completions":
			if got != nil {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
			}
			resp := map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
			}
			assert.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestAnalyze(t *testing.T) {
	var got chatRequest
	srv := chatServer(t, analysisJSON, http.StatusOK, &got)
	defer srv.Close()

	a, err := New(openAIConfig(srv.URL), logger.Discard())
	require.NoError(t, err)

	analysis, err := a.Analyze(context.Background(), "S0: Ship Friday?\nS1: Yes.")
	require.NoError(t, err)
	assert.Equal(t, "The team agreed to ship the beta on Friday.", analysis.MeetingSummary)
	require.Len(t, analysis.ActionItems, 1)
	assert.Nil(t, analysis.ActionItems[0].DueDate)
	assert.Equal(t, "Who owns QA?", analysis.QuestionsRaised[0].Question)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, `"questionsRaised"`)
	assert.Equal(t, "S0: Ship Friday?\nS1: Yes.", got.Messages[1].Content)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Equal(t, 1024, got.MaxTokens)
}

func TestAnalyzeFencedEqualsUnwrapped(t *testing.T) {
	analyze := func(content string) any {
		srv := chatServer(t, content, http.StatusOK, nil)
		defer srv.Close()

		a, err := New(openAIConfig(srv.URL), logger.Discard())
		require.NoError(t, err)
		analysis, err := a.Analyze(context.Background(), "S0: hello")
		require.NoError(t, err)
		return analysis
	}

	plain := analyze(analysisJSON)
	assert.Equal(t, plain, analyze("```json\n"+analysisJSON+"\n```"))
	assert.Equal(t, plain, analyze("```\n"+analysisJSON+"```"))
}

func TestAnalyzeContinuesWhenPingFails(t *testing.T) {
	srv := chatServer(t, analysisJSON, http.StatusServiceUnavailable, nil)
	defer srv.Close()

	a, err := New(openAIConfig(srv.URL), logger.Discard())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "S0: hello")
	assert.NoError(t, err)
}

func TestAnalyzeInvalidResponse(t *testing.T) {
	for _, content := range []string{
		"I could not find any meeting content.",
		`{"identifiedSpeakers": ["S0"]}`,
		`{"meetingSummary": 42}`,
		"",
	} {
		srv := chatServer(t, content, http.StatusOK, nil)

		a, err := New(openAIConfig(srv.URL), logger.Discard())
		require.NoError(t, err)

		_, err = a.Analyze(context.Background(), "S0: hello")
		assert.ErrorIs(t, err, failure.ErrInvalidResponse, content)
		assert.Equal(t, failure.KindSchema, failure.KindOf(err))
		assert.False(t, failure.Retryable(err))
		srv.Close()
	}
}

func TestAnalyzeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := New(openAIConfig(srv.URL), logger.Discard())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "S0: hello")
	assert.True(t, failure.Retryable(err))
}

func TestNewRequiresConfigurationBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := openAIConfig(srv.URL)
	cfg.Deployment = ""

	_, err := New(cfg, logger.Discard())
	require.Error(t, err)
	assert.True(t, failure.IsConfiguration(err))
	assert.Contains(t, failure.ReasonOf(err), "OPENAI_DEPLOYMENT")
	assert.Zero(t, calls.Load())
}

func TestAnalyzeRejectsEmptyTranscript(t *testing.T) {
	a, err := New(openAIConfig("http://127.0.0.1:1"), logger.Discard())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "  ")
	assert.ErrorIs(t, err, failure.ErrInvalidInput)
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```JSON {\"a\":1}```":      `{"a":1}`,
		"  ```\n{\"a\":1}\n```  \n": `{"a":1}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, StripCodeFence(in), in)
	}
}

func TestParseClampsLists(t *testing.T) {
	points := make([]string, 14)
	for i := range points {
		points[i] = "point"
	}
	raw, err := json.Marshal(map[string]any{
		"meetingSummary":   "s",
		"discussionPoints": points,
		"nextSteps":        []string{"1", "2", "3", "4", "5", "6", "7"},
	})
	require.NoError(t, err)

	analysis, err := Parse(string(raw))
	require.NoError(t, err)
	assert.Len(t, analysis.DiscussionPoints, 10)
	assert.Len(t, analysis.NextSteps, 5)
	assert.NotNil(t, analysis.DecisionsMade)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", MaxTranscriptChars+10)
	req := buildRequest("d", long)
	assert.Equal(t, MaxTranscriptChars, len([]rune(req.Messages[1].Content)))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
}
