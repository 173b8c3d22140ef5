package types

const (
	MaxDiscussionPoints = 10
	MaxNextSteps        = 5
)

type ActionItem struct {
	Task       string  `json:"task"`
	AssignedTo string  `json:"assignedTo"`
	DueDate    *string `json:"dueDate"`
}

type Question struct {
	Question string `json:"question"`
	AskedBy  string `json:"askedBy"`
}

// Analysis is the structured summary the language model extracts from a transcript.
type Analysis struct {
	MeetingSummary     string       `json:"meetingSummary"`
	IdentifiedSpeakers []string     `json:"identifiedSpeakers"`
	DiscussionPoints   []string     `json:"discussionPoints"`
	ActionItems        []ActionItem `json:"actionItems"`
	NextSteps          []string     `json:"nextSteps"`
	DecisionsMade      []string     `json:"decisionsMade"`
	QuestionsRaised    []Question   `json:"questionsRaised"`
}

// Clamp trims the bounded lists to their maximum length and replaces nil slices with
// empty ones so the JSON form never carries null lists.
func (a Analysis) Clamp() Analysis {
	if len(a.DiscussionPoints) > MaxDiscussionPoints {
		a.DiscussionPoints = a.DiscussionPoints[:MaxDiscussionPoints]
	}
	if len(a.NextSteps) > MaxNextSteps {
		a.NextSteps = a.NextSteps[:MaxNextSteps]
	}
	if a.IdentifiedSpeakers == nil {
		a.IdentifiedSpeakers = []string{}
	}
	if a.DiscussionPoints == nil {
		a.DiscussionPoints = []string{}
	}
	if a.ActionItems == nil {
		a.ActionItems = []ActionItem{}
	}
	if a.NextSteps == nil {
		a.NextSteps = []string{}
	}
	if a.DecisionsMade == nil {
		a.DecisionsMade = []string{}
	}
	if a.QuestionsRaised == nil {
		a.QuestionsRaised = []Question{}
	}
	return a
}
