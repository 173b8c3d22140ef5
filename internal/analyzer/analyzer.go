// Package analyzer turns transcript text into a structured meeting analysis using an
// Azure OpenAI chat deployment.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/transport"
	"meeting-insights-go/internal/types"
)

const pingTimeout = 6 * time.Second

type Analyzer struct {
	cfg  config.OpenAI
	http *transport.Client
	ping *transport.Client
	log  *logger.Logger
}

// New checks the endpoint, key and deployment before anything touches the network. opts
// apply to both the chat and the status-check clients.
func New(cfg config.OpenAI, log *logger.Logger, opts ...transport.Option) (*Analyzer, error) {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-02-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultAnalyzerTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{
		cfg:  cfg,
		http: transport.New(cfg.Timeout, opts...),
		ping: transport.New(pingTimeout, opts...),
		log:  log.Component("analyzer"),
	}, nil
}

func (a *Analyzer) headers() map[string]string {
	return map[string]string{"api-key": a.cfg.Key}
}

func (a *Analyzer) query() string {
	return "api-version=" + url.QueryEscape(a.cfg.APIVersion)
}

// Analyze asks the model for an Analysis of transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (types.Analysis, error) {
	const op = "analyzer.Analyze"
	if strings.TrimSpace(transcript) == "" {
		return types.Analysis{}, failure.InvalidInput(op, "transcript is required")
	}

	a.healthCheck(ctx)

	var resp chatResponse
	err := a.http.DoJSON(ctx, op, transport.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/openai/deployments/%s/chat/completions?%s", a.cfg.Endpoint, url.PathEscape(a.cfg.Deployment), a.query()),
		Header: a.headers(),
		Body:   buildRequest(a.cfg.Deployment, transcript),
	}, &resp)
	if err != nil {
		return types.Analysis{}, err
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	analysis, err := Parse(content)
	if err != nil {
		a.log.WithError(err).WithField("content_len", len(content)).Warn("model response was not a valid analysis")
		return types.Analysis{}, err
	}

	a.log.WithField("action_items", len(analysis.ActionItems)).
		WithField("discussion_points", len(analysis.DiscussionPoints)).
		Info("meeting analysis parsed")
	return analysis, nil
}

// healthCheck pings the resource status endpoint. The outcome is only logged.
func (a *Analyzer) healthCheck(ctx context.Context) {
	_, _, err := a.ping.Do(ctx, "analyzer.healthCheck", transport.Request{
		URL:    a.cfg.Endpoint + "/openai/status?" + a.query(),
		Header: a.headers(),
	})
	if err != nil {
		a.log.WithError(err).Warn("openai status check failed, continuing anyway")
	}
}

// Parse strips any code fence from content, validates it against the analysis schema and
// decodes it.
func Parse(content string) (types.Analysis, error) {
	const op = "analyzer.Parse"

	text := StripCodeFence(content)
	if text == "" {
		return types.Analysis{}, failure.Schema(op, failure.ErrInvalidResponse, "model returned an empty response")
	}
	if err := validateAnalysis([]byte(text)); err != nil {
		return types.Analysis{}, err
	}

	var analysis types.Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return types.Analysis{}, failure.Schema(op, errors.Join(failure.ErrInvalidResponse, err),
			fmt.Sprintf("model returned invalid JSON: %v", err))
	}
	return analysis.Clamp(), nil
}

// StripCodeFence removes a leading ``` line (with optional language tag) and a trailing ```
// from s. Unfenced input is returned trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
	})
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
