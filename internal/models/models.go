package models

import "time"

// Priority is the ordinal severity of a candidate. P0 is the most urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

var priorityWeights = map[Priority]int{
	PriorityP0: 100,
	PriorityP1: 75,
	PriorityP2: 50,
	PriorityP3: 25,
}

// Weight returns the numeric weight used for collision and batch ordering.
// Unknown priorities weigh zero and lose every comparison.
func (p Priority) Weight() int {
	return priorityWeights[p]
}

// Valid reports whether p is one of the four known levels.
func (p Priority) Valid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// DefaultTTLHours is the validity duration applied when a producer does not
// set one. More urgent messages stay active longer.
func (p Priority) DefaultTTLHours() int {
	switch p {
	case PriorityP0:
		return 24
	case PriorityP1:
		return 12
	case PriorityP2:
		return 8
	default:
		return 4
	}
}

// NonUrgent reports whether p falls under the daily non-urgent acceptance cap.
func (p Priority) NonUrgent() bool {
	return p == PriorityP2 || p == PriorityP3
}

// Category is the semantic bucket a producer tags a candidate with.
type Category string

const (
	CategoryNutrition Category = "nutrition"
	CategoryHydration Category = "hydration"
	CategorySleep     Category = "sleep"
	CategorySport     Category = "sport"
	CategoryStress    Category = "stress"
	CategoryProgress  Category = "progress"
	CategoryWellness  Category = "wellness"
	CategorySystem    Category = "system"
)

// categoryTopics groups related categories under one cooldown/collision key.
// Kept as an explicit table so it can be tested and extended in one place.
var categoryTopics = map[Category]string{
	CategoryNutrition: "nutrition",
	CategoryHydration: "hydration",
	CategorySleep:     "sleep",
	CategorySport:     "activity",
	CategoryStress:    "wellbeing",
	CategoryWellness:  "wellbeing",
	CategoryProgress:  "progress",
	CategorySystem:    "system",
}

// Topic returns the coarse grouping key for a category. Unknown categories
// map to their own name so every candidate always has a topic.
func (c Category) Topic() string {
	if t, ok := categoryTopics[c]; ok {
		return t
	}
	return string(c)
}

// CandidateMessage is a proposed notification awaiting routing approval.
// Producers build one and submit it; the router never mutates it.
type CandidateMessage struct {
	Priority      Priority `json:"priority" binding:"required"`
	Category      Category `json:"category" binding:"required"`
	Title         string   `json:"title" binding:"required"`
	Body          string   `json:"body" binding:"required"`
	ActionLabel   string   `json:"action_label,omitempty"`
	ActionRoute   string   `json:"action_route,omitempty"`
	BecauseLine   string   `json:"because_line,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	DedupKey      string   `json:"dedup_key,omitempty"`
	TTLHours      int      `json:"ttl_hours,omitempty"`
	PreferPush    *bool    `json:"prefer_push,omitempty"`
	UrgencyWindow *float64 `json:"urgency_window,omitempty"` // hours until the action stops being useful
	IsAI          bool     `json:"is_ai"`
}

// Topic returns the collision/cooldown key for this candidate.
func (c CandidateMessage) Topic() string {
	return c.Category.Topic()
}

// Actionable reports whether the candidate carries a call-to-action.
func (c CandidateMessage) Actionable() bool {
	return c.ActionRoute != ""
}

// WantsPush resolves the producer's push hint, defaulting to true for P0/P1.
func (c CandidateMessage) WantsPush() bool {
	if c.PreferPush != nil {
		return *c.PreferPush
	}
	return c.Priority == PriorityP0 || c.Priority == PriorityP1
}

// EffectiveTTLHours returns the producer TTL or the priority default.
func (c CandidateMessage) EffectiveTTLHours() int {
	if c.TTLHours > 0 {
		return c.TTLHours
	}
	return c.Priority.DefaultTTLHours()
}

// Delivery channels.
const (
	ChannelPush  = "push"
	ChannelInbox = "inbox"
)

// RoutedMessage is a candidate the router accepted, as persisted in the
// message store and rendered in the inbox.
type RoutedMessage struct {
	ID            string    `json:"id"`
	Priority      Priority  `json:"priority"`
	Category      Category  `json:"category"`
	Topic         string    `json:"topic"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	ActionLabel   string    `json:"action_label,omitempty"`
	ActionRoute   string    `json:"action_route,omitempty"`
	BecauseLine   string    `json:"because_line,omitempty"`
	DedupKey      string    `json:"dedup_key,omitempty"`
	IsAI          bool      `json:"is_ai"`
	Channel       string    `json:"channel"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Read          bool      `json:"read"`
	Dismissed     bool      `json:"dismissed"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Expired reports whether the message is past its TTL at the given instant.
func (m RoutedMessage) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// CollisionAction is the outcome of resolving a candidate against the
// topic's current message.
type CollisionAction string

const (
	CollisionKeepCurrent CollisionAction = "keep_current"
	CollisionReplace     CollisionAction = "replace"
	CollisionAdd         CollisionAction = "add"
)

// Decision is the router's verdict on a single candidate. Rejections are
// normal outcomes, not errors; Reason explains them for producer telemetry.
type Decision struct {
	Accepted   bool     `json:"accepted"`
	Reason     string   `json:"reason"`
	Channel    string   `json:"channel,omitempty"`
	Supersedes []string `json:"supersedes,omitempty"`
	Score      int      `json:"score,omitempty"`
	DeferHours int      `json:"defer_hours,omitempty"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}

type DeliverResponse struct {
	MessageID string   `json:"message_id,omitempty"`
	Decision  Decision `json:"decision"`
}

type BatchRequest struct {
	Candidates []CandidateMessage `json:"candidates" binding:"required"`
}

type BatchResponse struct {
	AcceptedIDs []string `json:"accepted_ids"`
	Submitted   int      `json:"submitted"`
	Accepted    int      `json:"accepted"`
}
