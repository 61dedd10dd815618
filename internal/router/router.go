package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/collision"
	"github.com/franzego/coachengine/internal/config"
	"github.com/franzego/coachengine/internal/messagestore"
	"github.com/franzego/coachengine/internal/models"
	"github.com/franzego/coachengine/internal/timing"
	"github.com/franzego/coachengine/internal/topicstate"
)

// PushSink delivers an accepted push message to the OS-level transport.
// Failures are best-effort: the router logs them and moves on.
type PushSink interface {
	Publish(ctx context.Context, userID string, msg models.RoutedMessage) error
}

// Router decides which candidate messages the user actually sees, on which
// channel, and records every acceptance. All state mutations for one user
// go through that user's mutex, so decisions are single-writer per user.
type Router struct {
	topics      *topicstate.Store
	messages    *messagestore.Store
	counters    *Counters
	sink        PushSink
	log         *zap.SugaredLogger
	cfg         config.EngineConfig
	userLocks   sync.Map // userID -> *sync.Mutex
	pushTimeout time.Duration
}

func New(
	topics *topicstate.Store,
	messages *messagestore.Store,
	counters *Counters,
	sink PushSink,
	logger *zap.SugaredLogger,
	cfg config.EngineConfig,
) *Router {
	timeout := cfg.PushPublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{
		topics:      topics,
		messages:    messages,
		counters:    counters,
		sink:        sink,
		log:         logger,
		cfg:         cfg,
		pushTimeout: timeout,
	}
}

func (r *Router) lockUser(userID string) *sync.Mutex {
	mu, _ := r.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func reject(reason string) models.Decision {
	return models.Decision{Accepted: false, Reason: reason}
}

// Route runs the full decision pipeline for one candidate without side
// effects. now is read once by the caller and threaded through every
// sub-check so window and quiet-hour evaluations cannot disagree.
func (r *Router) Route(ctx context.Context, userID string, c models.CandidateMessage) (models.Decision, error) {
	mu := r.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()
	return r.route(ctx, userID, c, time.Now())
}

func (r *Router) route(ctx context.Context, userID string, c models.CandidateMessage, now time.Time) (models.Decision, error) {
	if !c.Priority.Valid() {
		return reject(fmt.Sprintf("unknown priority %q", c.Priority)), nil
	}
	if c.IsAI && c.BecauseLine == "" {
		return reject("ai candidate missing because line"), nil
	}

	topic := c.Topic()
	cooldown := r.topics.CooldownHours(topic)
	canShow, err := r.topics.CanShowTopic(ctx, userID, topic, cooldown, now)
	if err != nil {
		return models.Decision{}, err
	}
	if !canShow {
		return reject(fmt.Sprintf("topic %s within %dh cooldown", topic, cooldown)), nil
	}

	canSend, err := r.messages.CanSend(ctx, userID, c.DedupKey, c.Priority)
	if err != nil {
		return models.Decision{}, err
	}
	if !canSend {
		return reject(fmt.Sprintf("dedup key %s within suppression window", c.DedupKey)), nil
	}

	current, err := r.messages.ActiveForTopic(ctx, userID, topic, now)
	if err != nil {
		return models.Decision{}, err
	}
	action := collision.Resolve(current, c, now)
	if action == models.CollisionKeepCurrent {
		return reject(fmt.Sprintf("existing %s message on topic %s outranks candidate", current.Priority, topic)), nil
	}

	dismissCount, err := r.topics.DismissCount(ctx, userID, topic)
	if err != nil {
		return models.Decision{}, err
	}
	opens, err := r.topics.PreferredHours(ctx, userID)
	if err != nil {
		return models.Decision{}, err
	}
	windows := timing.WindowsFor(opens)

	score := timing.ActionabilityScore(timing.ScoreContext{
		Priority:      c.Priority,
		Category:      c.Category,
		HasAction:     c.Actionable(),
		IsAI:          c.IsAI,
		Confidence:    c.Confidence,
		UrgencyWindow: c.UrgencyWindow,
		DismissCount:  dismissCount,
	}, now)
	if score.Recommendation == timing.RecommendSkip {
		return reject(fmt.Sprintf("actionability score %d below delivery floor", score.Score)), nil
	}

	quiet := timing.AdjustForQuietHours(c.Priority, r.cfg.QuietStartHour, r.cfg.QuietEndHour, now)

	pushCount, err := r.counters.PushCount(ctx, userID, now)
	if err != nil {
		return models.Decision{}, err
	}
	verdict := CheckPushEligibility(c, pushCount, r.cfg.DailyPushCap)
	channel := models.ChannelInbox
	if verdict.Eligible {
		channel = models.ChannelPush
	}

	// Push only degrades, never upgrades: outside quiet hours and delivery
	// windows a non-critical push becomes an inbox entry instead.
	if c.Priority != models.PriorityP0 && channel == models.ChannelPush {
		outsideWindows := !timing.InWindow(now, windows) && score.Recommendation != timing.RecommendPush
		if quiet.Action == timing.QuietDefer || outsideWindows {
			channel = models.ChannelInbox
		}
	}

	decision := models.Decision{
		Accepted:   true,
		Reason:     "accepted",
		Channel:    channel,
		Score:      score.Score,
		DeferHours: timing.DeferHours(c.Priority, score.Recommendation, now, windows),
	}
	if action == models.CollisionReplace && current != nil {
		decision.Supersedes = []string{current.ID}
	}
	return decision, nil
}

// Deliver routes a candidate and, on acceptance, commits it: supersedes are
// dismissed, the routed message is persisted, topic state and daily counters
// are updated, and push delivery is kicked off fire-and-forget. Returns an
// empty id for rejections, which are normal outcomes, not errors.
func (r *Router) Deliver(ctx context.Context, userID string, c models.CandidateMessage) (string, models.Decision, error) {
	mu := r.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()
	return r.deliver(ctx, userID, c, time.Now())
}

func (r *Router) deliver(ctx context.Context, userID string, c models.CandidateMessage, now time.Time) (string, models.Decision, error) {
	decision, err := r.route(ctx, userID, c, now)
	if err != nil {
		return "", decision, err
	}
	if !decision.Accepted {
		r.log.Infow("candidate rejected",
			"user", userID,
			"topic", c.Topic(),
			"priority", c.Priority,
			"reason", decision.Reason,
		)
		return "", decision, nil
	}

	for _, id := range decision.Supersedes {
		if _, err := r.messages.Dismiss(ctx, userID, id); err != nil {
			return "", decision, fmt.Errorf("dismiss superseded message: %w", err)
		}
	}

	msg := models.RoutedMessage{
		Priority:    c.Priority,
		Category:    c.Category,
		Topic:       c.Topic(),
		Title:       c.Title,
		Body:        c.Body,
		ActionLabel: c.ActionLabel,
		ActionRoute: c.ActionRoute,
		BecauseLine: c.BecauseLine,
		DedupKey:    c.DedupKey,
		IsAI:        c.IsAI,
		Channel:     decision.Channel,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(c.EffectiveTTLHours()) * time.Hour),
	}
	id, err := r.messages.Add(ctx, userID, msg)
	if err != nil {
		r.log.Errorw("message store rejected accepted candidate", "user", userID, "topic", msg.Topic, "error", err)
		return "", decision, err
	}
	msg.ID = id

	isPush := decision.Channel == models.ChannelPush
	if err := r.topics.RecordMessageShown(ctx, userID, msg.Topic, isPush, now); err != nil {
		return id, decision, err
	}
	if isPush {
		if err := r.counters.RecordPush(ctx, userID, now); err != nil {
			return id, decision, err
		}
	}
	if c.Priority.NonUrgent() {
		if err := r.counters.RecordNonUrgent(ctx, userID, now); err != nil {
			return id, decision, err
		}
	}

	if isPush && r.sink != nil {
		go r.publishPush(userID, msg)
	}

	r.log.Infow("message delivered",
		"user", userID,
		"id", id,
		"topic", msg.Topic,
		"priority", msg.Priority,
		"channel", decision.Channel,
		"score", decision.Score,
	)
	return id, decision, nil
}

// publishPush hands the message to the push transport. The store write is
// already committed; a sink failure is logged and the message remains in
// the inbox.
func (r *Router) publishPush(userID string, msg models.RoutedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.pushTimeout)
	defer cancel()
	if err := r.sink.Publish(ctx, userID, msg); err != nil {
		r.log.Warnw("push publish failed", "user", userID, "id", msg.ID, "error", err)
	}
}

// DeliverBatch processes a day's candidate pool: highest priority first
// (stable for producer-order ties), at most one acceptance per topic, and
// at most one non-urgent (P2/P3) acceptance per batch. Returns accepted ids
// in delivery order.
func (r *Router) DeliverBatch(ctx context.Context, userID string, candidates []models.CandidateMessage) ([]string, error) {
	mu := r.lockUser(userID)
	mu.Lock()
	defer mu.Unlock()

	sorted := make([]models.CandidateMessage, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority.Weight() > sorted[j].Priority.Weight()
	})

	acceptedTopics := make(map[string]bool)
	nonUrgent := 0
	ids := make([]string, 0, len(sorted))
	for _, c := range sorted {
		topic := c.Topic()
		if acceptedTopics[topic] {
			continue
		}
		if c.Priority.NonUrgent() && nonUrgent >= r.cfg.BatchNonUrgentCap {
			continue
		}
		id, _, err := r.deliver(ctx, userID, c, time.Now())
		if err != nil {
			// A storage failure on one candidate should not sink the batch.
			r.log.Errorw("batch item failed", "user", userID, "topic", topic, "error", err)
			continue
		}
		if id == "" {
			continue
		}
		ids = append(ids, id)
		acceptedTopics[topic] = true
		if c.Priority.NonUrgent() {
			nonUrgent++
		}
	}
	return ids, nil
}

// CleanupExpired sweeps this user's expired messages. Meant for app
// foreground or timers, never the hot delivery path.
func (r *Router) CleanupExpired(ctx context.Context, userID string) (int, error) {
	return r.messages.ClearExpired(ctx, userID, time.Now())
}
