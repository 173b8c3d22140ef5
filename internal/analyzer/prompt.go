package analyzer

import "unicode/utf8"

// MaxTranscriptChars bounds the transcript sent to the model.
const MaxTranscriptChars = 16000

const systemPrompt = `You are an expert meeting assistant. Your task is to analyze the provided meeting transcript and extract key information.
Return **ONLY** valid JSON with these keys:

"meetingSummary"      : string  (2-3 sentences)
"identifiedSpeakers"  : string[]            (e.g. ["Speaker 0","Speaker 1"])
"discussionPoints"    : string[]            (max 10)
"actionItems"         : {task,assignedTo,dueDate|null}[]
"nextSteps"           : string[]            (max 5)
"decisionsMade"       : string[]
"questionsRaised"     : {question,askedBy}[]

Follow the transcript faithfully; do not invent content.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// buildRequest assembles the chat request for transcript, truncating it to
// MaxTranscriptChars characters.
func buildRequest(deployment, transcript string) chatRequest {
	return chatRequest{
		Model: deployment,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Truncate(transcript, MaxTranscriptChars)},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	}
}

// Truncate cuts s to at most n characters without splitting a multi-byte rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
