package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/storage"
	"meeting-insights-go/internal/transport"
)

const (
	apiPath = "/speechtotext/v3.1/transcriptions"

	// maxFilePages bounds @nextLink traversal of a files listing.
	maxFilePages = 20
)

type Client struct {
	cfg    config.Speech
	ttl    time.Duration
	signer storage.Signer
	http   *transport.Client
	log    *logger.Logger
	now    func() time.Time
}

// NewClient validates the speech settings up front so a misconfigured client never reaches
// the network.
func NewClient(cfg config.Speech, signer storage.Signer, ttl time.Duration, hc *transport.Client, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, failure.Configuration("transcription.NewClient", "audio signer is required")
	}
	if ttl <= 0 {
		ttl = config.DefaultSignedURLLifetime
	}
	return &Client{
		cfg:    cfg,
		ttl:    ttl,
		signer: signer,
		http:   hc,
		log:    log.Component("transcription"),
		now:    time.Now,
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Ocp-Apim-Subscription-Key": c.cfg.Key}
}

func (c *Client) jobURL(jobID string) string {
	return c.cfg.Endpoint + apiPath + "/" + jobID
}

// Submit signs a read-only URL for audioRef and starts a batch transcription job,
// returning the provider's job id.
func (c *Client) Submit(ctx context.Context, audioRef string) (string, error) {
	const op = "transcription.Submit"
	if strings.TrimSpace(audioRef) == "" {
		return "", failure.InvalidInput(op, "audio reference is required")
	}

	sasURL, err := c.signer.SignedURL(ctx, audioRef, c.ttl)
	if err != nil {
		return "", err
	}
	c.log.WithField("blob", audioRef).Debug("signed audio url generated")

	payload := submitRequest{
		ContentURLs: []string{sasURL},
		Locale:      c.cfg.Locale,
		DisplayName: fmt.Sprintf("Transcription_%d", c.now().UnixMilli()),
		Properties: submitProperties{
			DiarizationEnabled:         true,
			WordLevelTimestampsEnabled: true,
			PunctuationMode:            "DictatedAndAutomatic",
			Channels:                   []int{0},
		},
	}

	var resp jobResponse
	err = c.http.DoJSON(ctx, op, transport.Request{
		Method: http.MethodPost,
		URL:    c.cfg.Endpoint + apiPath,
		Header: c.headers(),
		Body:   payload,
	}, &resp)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Kind == failure.KindTerminalProvider {
			return "", &failure.Error{
				Kind:   failure.KindTerminalProvider,
				Op:     op,
				Reason: fe.Reason,
				Status: fe.Status,
				Err:    errors.Join(failure.ErrSubmission, err),
			}
		}
		return "", err
	}

	self := resp.Self
	if self == "" {
		self = resp.Links.Self
	}
	jobID := lastSegment(self)
	if jobID == "" {
		return "", failure.Schema(op, errors.New("missing self link"), "submission response carried no job link")
	}

	c.log.WithField("job_id", jobID).Info("speech transcription job submitted")
	return jobID, nil
}

// QueryStatus reads the current state of a job.
func (c *Client) QueryStatus(ctx context.Context, jobID string) (Job, error) {
	const op = "transcription.QueryStatus"
	if jobID == "" {
		return Job{}, failure.InvalidInput(op, "transcription job id is required")
	}

	var resp jobResponse
	if err := c.http.DoJSON(ctx, op, transport.Request{URL: c.jobURL(jobID), Header: c.headers()}, &resp); err != nil {
		return Job{}, err
	}

	status, known := parseStatus(resp.Status)
	if !known {
		c.log.WithField("job_id", jobID).WithField("status", resp.Status).Warn("unrecognised job status, treating as running")
	}

	msg := resp.StatusMessage
	if msg == "" && resp.Properties.Error != nil {
		msg = resp.Properties.Error.Message
	}

	return Job{
		ID:            jobID,
		Status:        status,
		StatusMessage: msg,
		FilesURL:      resp.Links.Files,
	}, nil
}

// ListFiles returns every result file of a finished job, following pagination links.
func (c *Client) ListFiles(ctx context.Context, job Job) ([]File, error) {
	const op = "transcription.ListFiles"

	next := job.FilesURL
	if next == "" {
		if job.ID == "" {
			return nil, failure.InvalidInput(op, "transcription job id is required")
		}
		next = c.jobURL(job.ID) + "/files"
	}

	var files []File
	for page := 0; next != "" && page < maxFilePages; page++ {
		var resp filesResponse
		if err := c.http.DoJSON(ctx, op, transport.Request{URL: next, Header: c.headers()}, &resp); err != nil {
			return nil, err
		}
		for _, v := range resp.Values {
			files = append(files, File{Kind: v.Kind, ContentURL: v.Links.ContentURL})
		}
		next = resp.NextLink
	}

	c.log.WithField("job_id", job.ID).WithField("files", len(files)).Debug("speech files listed")
	return files, nil
}

func lastSegment(link string) string {
	link = strings.TrimRight(link, "/")
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}
