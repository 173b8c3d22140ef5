// Package fetcher downloads a finished transcription document and flattens it into
// speaker-tagged plain text.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/transport"
)

// Phrase is one utterance of the combined recognition result.
type Phrase struct {
	Speaker json.RawMessage `json:"speaker,omitempty"`
	Channel int             `json:"channel"`
	Display string          `json:"display"`
}

// Document is the subset of the transcription result the fetcher reads.
type Document struct {
	CombinedRecognizedPhrases []Phrase `json:"combinedRecognizedPhrases"`
}

type Fetcher struct {
	http *transport.Client
	log  *logger.Logger
}

func New(hc *transport.Client, log *logger.Logger) *Fetcher {
	return &Fetcher{http: hc, log: log.Component("fetcher")}
}

// Fetch downloads the document at resultURL and returns its flattened text. The URL is
// pre-signed, so no credentials are sent.
func (f *Fetcher) Fetch(ctx context.Context, resultURL string) (string, error) {
	const op = "fetcher.Fetch"
	if strings.TrimSpace(resultURL) == "" {
		return "", failure.InvalidInput(op, "resultUrl is required")
	}

	body, _, err := f.http.Do(ctx, op, transport.Request{URL: resultURL})
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return "", &failure.Error{
				Kind:   fe.Kind,
				Op:     op,
				Reason: fe.Reason,
				Status: fe.Status,
				Err:    errors.Join(failure.ErrDownload, err),
			}
		}
		return "", fmt.Errorf("%w: %w", failure.ErrDownload, err)
	}

	doc, err := Decode(body)
	if err != nil {
		return "", err
	}

	text := Flatten(doc)
	f.log.WithField("utterances", len(doc.CombinedRecognizedPhrases)).Info("transcript parsed")
	return text, nil
}

// Decode parses a transcription result document.
func Decode(body []byte) (Document, error) {
	const op = "fetcher.Decode"

	var doc Document
	if len(bytes.TrimSpace(body)) == 0 {
		return doc, failure.Schema(op, failure.ErrMalformedDocument, "empty transcript document")
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return doc, failure.Schema(op, errors.Join(failure.ErrMalformedDocument, err),
			fmt.Sprintf("malformed transcript document: %v", err))
	}
	return doc, nil
}

// Flatten renders one "<label>: <display>" line per phrase. An empty phrase list gives "".
func Flatten(doc Document) string {
	lines := make([]string, 0, len(doc.CombinedRecognizedPhrases))
	for _, p := range doc.CombinedRecognizedPhrases {
		lines = append(lines, SpeakerLabel(p)+": "+p.Display)
	}
	return strings.Join(lines, "\n")
}

// SpeakerLabel returns the phrase's speaker, string or number, or S<channel> when the speaker
// is absent, null, false, an empty string or the number 0.
func SpeakerLabel(p Phrase) string {
	fallback := "S" + strconv.Itoa(p.Channel)

	raw := bytes.TrimSpace(p.Speaker)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return fallback
		}
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			return fallback
		}
		return n.String()
	}
	return string(raw)
}
