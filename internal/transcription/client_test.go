package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/transport"
)

type fakeSigner struct {
	gotBlob string
	gotTTL  time.Duration
}

func (f *fakeSigner) SignedURL(_ context.Context, blob string, ttl time.Duration) (string, error) {
	f.gotBlob, f.gotTTL = blob, ttl
	return "https://acct.blob.core.windows.net/audio-input/" + blob + "?sig=abc", nil
}

func newTestClient(t *testing.T, srv *httptest.Server, signer *fakeSigner) *Client {
	t.Helper()

	c, err := NewClient(config.Speech{
		Endpoint: srv.URL,
		Key:      "speech-key",
		Locale:   "en-US",
	}, signer, 24*time.Hour, transport.New(5*time.Second), logger.Discard())
	require.NoError(t, err)
	return c
}

func TestSubmit(t *testing.T) {
	signer := &fakeSigner{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/speechtotext/v3.1/transcriptions", r.URL.Path)
		assert.Equal(t, "speech-key", r.Header.Get("Ocp-Apim-Subscription-Key"))

		var body submitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"https://acct.blob.core.windows.net/audio-input/sample.mp3?sig=abc"}, body.ContentURLs)
		assert.Equal(t, "en-US", body.Locale)
		assert.True(t, body.Properties.DiarizationEnabled)
		assert.True(t, body.Properties.WordLevelTimestampsEnabled)
		assert.Equal(t, "DictatedAndAutomatic", body.Properties.PunctuationMode)
		assert.Equal(t, []int{0}, body.Properties.Channels)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"self":"https://eastus.api.cognitive.microsoft.com/speechtotext/v3.1/transcriptions/9b1c-44","status":"NotStarted"}`))
	}))
	defer srv.Close()

	jobID, err := newTestClient(t, srv, signer).Submit(context.Background(), "sample.mp3")
	require.NoError(t, err)
	assert.Equal(t, "9b1c-44", jobID)
	assert.Equal(t, "sample.mp3", signer.gotBlob)
	assert.Equal(t, 24*time.Hour, signer.gotTTL)
}

func TestSubmitRejectsEmptyReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &fakeSigner{}).Submit(context.Background(), " ")
	assert.ErrorIs(t, err, failure.ErrInvalidInput)
}

func TestSubmitProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"Unauthorized","message":"bad key"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, &fakeSigner{}).Submit(context.Background(), "sample.mp3")
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrSubmission)
	assert.Equal(t, failure.KindTerminalProvider, failure.KindOf(err))

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	assert.Contains(t, fe.Reason, "bad key")
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		body    string
		status  Status
		message string
	}{
		{body: `{"status":"NotStarted"}`, status: StatusRunning},
		{body: `{"status":"Running"}`, status: StatusRunning},
		{body: `{"status":"Succeeded","links":{"files":"https://x/files"}}`, status: StatusSucceeded},
		{body: `{"status":"Failed","statusMessage":"disk full"}`, status: StatusFailed, message: "disk full"},
		{body: `{"status":"Failed","properties":{"error":{"code":"InvalidData","message":"bad audio"}}}`, status: StatusFailed, message: "bad audio"},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/speechtotext/v3.1/transcriptions/job-1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			job, err := newTestClient(t, srv, &fakeSigner{}).QueryStatus(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, job.Status)
			assert.Equal(t, tt.message, job.StatusMessage)
		})
	}
}

func TestListFilesFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = w.Write([]byte(`{"values":[{"kind":"TranscriptionReport","links":{"contentUrl":"https://x/report.json"}}],"@nextLink":"` + srv.URL + `/files?page=2"}`))
		default:
			_, _ = w.Write([]byte(`{"values":[{"kind":"Transcription","links":{"contentUrl":"https://x/contenturl_0.json?sv=1"}}]}`))
		}
	}))
	defer srv.Close()

	files, err := newTestClient(t, srv, &fakeSigner{}).ListFiles(context.Background(), Job{ID: "job-1", FilesURL: srv.URL + "/files"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.False(t, files[0].IsJSONTranscript())
	assert.True(t, files[1].IsJSONTranscript())
}

func TestFileIsJSONTranscript(t *testing.T) {
	assert.True(t, File{Kind: "Transcription", ContentURL: "https://x/a/RESULT.JSON?sig=1.wav"}.IsJSONTranscript())
	assert.False(t, File{Kind: "Transcription", ContentURL: "https://x/a/result.txt?x=.json"}.IsJSONTranscript())
	assert.False(t, File{Kind: "Transcription"}.IsJSONTranscript())
}
