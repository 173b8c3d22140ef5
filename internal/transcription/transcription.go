package transcription

import (
	"net/url"
	"strings"
	"time"
)

// Status is the lifecycle state of a remote transcription job.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether no further transition can follow s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// parseStatus folds the provider's vocabulary onto the three states the poller tracks.
// NotStarted and anything unrecognised count as still running.
func parseStatus(raw string) (Status, bool) {
	switch raw {
	case "Succeeded":
		return StatusSucceeded, true
	case "Failed":
		return StatusFailed, true
	case "Running", "NotStarted":
		return StatusRunning, true
	default:
		return StatusRunning, false
	}
}

// Job is the last observed state of a transcription job.
type Job struct {
	ID            string    `json:"id"`
	SubmittedAt   time.Time `json:"submittedAt,omitzero"`
	Status        Status    `json:"status"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	FilesURL      string    `json:"filesUrl,omitempty"`
}

const KindTranscription = "Transcription"

// File is one entry of a finished job's result listing.
type File struct {
	Kind       string `json:"kind"`
	ContentURL string `json:"contentUrl"`
}

// IsJSONTranscript reports whether f is the transcription document, judged by kind and by
// the content URL path with any query string ignored.
func (f File) IsJSONTranscript() bool {
	if f.Kind != KindTranscription || f.ContentURL == "" {
		return false
	}
	u, err := url.Parse(f.ContentURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".json")
}

// ---- wire formats ----

type submitProperties struct {
	DiarizationEnabled         bool   `json:"diarizationEnabled"`
	WordLevelTimestampsEnabled bool   `json:"wordLevelTimestampsEnabled"`
	PunctuationMode            string `json:"punctuationMode"`
	Channels                   []int  `json:"channels"`
}

type submitRequest struct {
	ContentURLs []string         `json:"contentUrls"`
	Locale      string           `json:"locale"`
	DisplayName string           `json:"displayName"`
	Properties  submitProperties `json:"properties"`
}

type jobLinks struct {
	Self  string `json:"self,omitempty"`
	Files string `json:"files,omitempty"`
}

type jobResponse struct {
	Self          string   `json:"self"`
	Status        string   `json:"status"`
	StatusMessage string   `json:"statusMessage,omitempty"`
	Links         jobLinks `json:"links"`
	Properties    struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"properties"`
}

type filesResponse struct {
	Values []struct {
		Kind  string `json:"kind"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
	NextLink string `json:"@nextLink,omitempty"`
}
