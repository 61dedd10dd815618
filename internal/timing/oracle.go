package timing

import (
	"math"
	"sort"
	"time"

	"github.com/franzego/coachengine/internal/models"
)

// Window is a half-open [Start,End) hour range during which delivery is
// considered welcome.
type Window struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// DefaultWindows are the product defaults used until the user has enough
// app-open history to learn from.
func DefaultWindows() []Window {
	return []Window{
		{Start: 7, End: 9, Label: "morning"},
		{Start: 12, End: 14, Label: "midday"},
		{Start: 18, End: 21, Label: "evening"},
	}
}

// WindowsFor derives the active window set. With fewer than two learned
// app-open samples the defaults apply; otherwise windows are centered (1h
// either side) on the user's top preferred hours, ranked by frequency and
// then recency.
func WindowsFor(preferred []time.Time) []Window {
	if len(preferred) < 2 {
		return DefaultWindows()
	}

	counts := make(map[int]int)
	latest := make(map[int]time.Time)
	for _, ts := range preferred {
		h := ts.Hour()
		counts[h]++
		if ts.After(latest[h]) {
			latest[h] = ts
		}
	}

	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return latest[hours[i]].After(latest[hours[j]])
	})
	if len(hours) > 3 {
		hours = hours[:3]
	}

	windows := make([]Window, 0, len(hours))
	for _, h := range hours {
		start := h - 1
		if start < 0 {
			start = 0
		}
		end := h + 1
		if end > 24 {
			end = 24
		}
		windows = append(windows, Window{Start: start, End: end, Label: "preferred"})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows
}

// InWindow reports whether now falls inside any of the given windows.
func InWindow(now time.Time, windows []Window) bool {
	h := now.Hour()
	for _, w := range windows {
		if h >= w.Start && h < w.End {
			return true
		}
	}
	return false
}

// NextSlot names the nearest future delivery window start.
type NextSlot struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
}

// NextWindow finds the nearest window start after now, wrapping to the
// earliest window tomorrow. Returns nil only when no windows exist.
func NextWindow(now time.Time, windows []Window) *NextSlot {
	if len(windows) == 0 {
		return nil
	}
	h := now.Hour()
	best := -1
	var bestLabel string
	earliest := -1
	var earliestLabel string
	for _, w := range windows {
		if earliest == -1 || w.Start < earliest {
			earliest = w.Start
			earliestLabel = w.Label
		}
		if w.Start > h && (best == -1 || w.Start < best) {
			best = w.Start
			bestLabel = w.Label
		}
	}
	if best != -1 {
		return &NextSlot{Hour: best, Label: bestLabel}
	}
	return &NextSlot{Hour: earliest, Label: earliestLabel}
}

// hoursUntilNextWindow is the whole-hour distance from now to the next
// window start, wrapping past midnight.
func hoursUntilNextWindow(now time.Time, windows []Window) int {
	next := NextWindow(now, windows)
	if next == nil {
		return 0
	}
	h := now.Hour()
	if next.Hour > h {
		return next.Hour - h
	}
	return (24 - h) + next.Hour
}

// Recommendation is the scoring verdict for a candidate.
type Recommendation string

const (
	RecommendPush  Recommendation = "push"
	RecommendInbox Recommendation = "inbox"
	RecommendDefer Recommendation = "defer"
	RecommendSkip  Recommendation = "skip"
)

// ScoreContext carries everything the scorer needs about a candidate and
// the user's engagement history.
type ScoreContext struct {
	Priority      models.Priority
	Category      models.Category
	HasAction     bool
	IsAI          bool
	Confidence    *float64
	UrgencyWindow *float64
	DismissCount  int
}

// Factors breaks the composite score into its four components, each 0-25.
type Factors struct {
	Urgency      int `json:"urgency"`
	Relevance    int `json:"relevance"`
	Actionable   int `json:"actionable"`
	Personalized int `json:"personalized"`
}

type ScoreResult struct {
	Score          int            `json:"score"`
	Factors        Factors        `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
}

// ActionabilityScore computes the 0-100 composite used to rank and gate
// candidates. Deterministic for a fixed (ctx, now).
func ActionabilityScore(ctx ScoreContext, now time.Time) ScoreResult {
	urgency := urgencyFactor(ctx)
	relevance := relevanceFactor(ctx.Category, now.Hour())
	actionable := 10
	if ctx.HasAction {
		actionable = 25
	}
	personalized := 15
	if ctx.IsAI {
		conf := 0.8
		if ctx.Confidence != nil {
			conf = *ctx.Confidence
		}
		personalized = int(math.Round(conf * 25))
	}

	// Topics the user keeps dismissing lose relevance and personalization.
	damp := ctx.DismissCount * 3
	if damp > 15 {
		damp = 15
	}
	relevance -= damp
	if relevance < 0 {
		relevance = 0
	}
	personalized -= damp
	if personalized < 0 {
		personalized = 0
	}

	score := urgency + relevance + actionable + personalized
	return ScoreResult{
		Score: score,
		Factors: Factors{
			Urgency:      urgency,
			Relevance:    relevance,
			Actionable:   actionable,
			Personalized: personalized,
		},
		Recommendation: recommend(score, ctx.Priority),
	}
}

func urgencyFactor(ctx ScoreContext) int {
	base := map[models.Priority]int{
		models.PriorityP0: 25,
		models.PriorityP1: 20,
		models.PriorityP2: 10,
		models.PriorityP3: 5,
	}[ctx.Priority]
	if ctx.UrgencyWindow != nil {
		if *ctx.UrgencyWindow <= 1 {
			base += 10
		} else if *ctx.UrgencyWindow <= 3 {
			base += 5
		}
	}
	if base > 25 {
		base = 25
	}
	return base
}

func relevanceFactor(category models.Category, hour int) int {
	switch category {
	case models.CategoryNutrition:
		switch hour {
		case 7, 8, 12, 13, 18, 19:
			return 25
		}
		return 15
	case models.CategorySleep:
		if hour >= 21 || hour < 8 {
			return 25
		}
		return 10
	case models.CategoryHydration:
		if hour >= 9 && hour < 19 {
			return 22
		}
		return 12
	case models.CategorySport:
		if hour >= 15 && hour < 21 {
			return 25
		}
		return 15
	case models.CategoryStress, models.CategoryProgress, models.CategoryWellness:
		return 20
	case models.CategorySystem:
		return 15
	}
	return 15
}

func recommend(score int, priority models.Priority) Recommendation {
	switch {
	case score >= 80 && (priority == models.PriorityP0 || priority == models.PriorityP1):
		return RecommendPush
	case score >= 45:
		return RecommendInbox
	case score >= 30:
		return RecommendDefer
	default:
		return RecommendSkip
	}
}

// DeferHours decides how long delivery should wait for a better moment.
// P0 is never deferred; inside a window nothing is.
func DeferHours(priority models.Priority, rec Recommendation, now time.Time, windows []Window) int {
	if priority == models.PriorityP0 {
		return 0
	}
	if InWindow(now, windows) {
		return 0
	}
	wait := hoursUntilNextWindow(now, windows)
	if rec == RecommendDefer {
		if wait > 6 {
			wait = 6
		}
		return wait
	}
	if priority == models.PriorityP1 && rec == RecommendPush {
		if wait > 2 {
			wait = 2
		}
		return wait
	}
	return 0
}

// InQuietHours reports whether now falls inside the [start,end) quiet
// interval, which normally spans midnight (e.g. 22 to 8).
func InQuietHours(now time.Time, start, end int) bool {
	h := now.Hour()
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}

// Quiet-hour adjudication actions.
const (
	QuietAllow = "allow"
	QuietDefer = "defer"
)

type QuietAdjustment struct {
	Action      string `json:"action"`
	HoursToWait int    `json:"hours_to_wait,omitempty"`
}

// AdjustForQuietHours decides whether a candidate may go out now or must
// wait for the quiet interval to end. Only P0 cuts through.
func AdjustForQuietHours(priority models.Priority, start, end int, now time.Time) QuietAdjustment {
	if priority == models.PriorityP0 {
		return QuietAdjustment{Action: QuietAllow}
	}
	if !InQuietHours(now, start, end) {
		return QuietAdjustment{Action: QuietAllow}
	}
	h := now.Hour()
	wait := end - h
	if start > end && h >= start {
		// Quiet interval wraps past midnight and we are on the near side.
		wait = (24 - h) + end
	}
	return QuietAdjustment{Action: QuietDefer, HoursToWait: wait}
}
