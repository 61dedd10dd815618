package queue

import "github.com/franzego/coachengine/internal/models"

// PushPayload is the transport-facing shape handed to the OS push pipeline.
type PushPayload struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Sound    string `json:"sound,omitempty"`
	DeepLink string `json:"deep_link,omitempty"`
	Source   string `json:"source"`
}

// severities maps routing priorities into the transport vocabulary.
var severities = map[models.Priority]string{
	models.PriorityP0: "critical",
	models.PriorityP1: "high",
	models.PriorityP2: "normal",
	models.PriorityP3: "low",
}

// sounds picks the notification sound per category. Unlisted categories use
// the transport default.
var sounds = map[models.Category]string{
	models.CategorySleep:  "gentle",
	models.CategoryStress: "gentle",
	models.CategorySystem: "none",
}

// Translate maps a routed message into the push transport's vocabulary.
// Kept at the queue boundary so the router never learns transport terms.
func Translate(userID string, msg models.RoutedMessage) PushPayload {
	source := "rules"
	if msg.IsAI {
		source = "ai"
	}
	return PushPayload{
		UserID:   userID,
		Title:    msg.Title,
		Body:     msg.Body,
		Category: string(msg.Category),
		Severity: severities[msg.Priority],
		Sound:    sounds[msg.Category],
		DeepLink: msg.ActionRoute,
		Source:   source,
	}
}
