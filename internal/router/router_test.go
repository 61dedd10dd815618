package router

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/config"
	"github.com/franzego/coachengine/internal/messagestore"
	"github.com/franzego/coachengine/internal/models"
	"github.com/franzego/coachengine/internal/topicstate"
)

// recordingSink captures push publishes from the router's fire-and-forget
// goroutine.
type recordingSink struct {
	published chan models.RoutedMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{published: make(chan models.RoutedMessage, 8)}
}

func (s *recordingSink) Publish(_ context.Context, _ string, msg models.RoutedMessage) error {
	s.published <- msg
	return nil
}

func (s *recordingSink) waitForPush(t *testing.T) models.RoutedMessage {
	t.Helper()
	select {
	case msg := <-s.published:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push publish")
		return models.RoutedMessage{}
	}
}

type fixture struct {
	router   *Router
	topics   *topicstate.Store
	messages *messagestore.Store
	counters *Counters
	sink     *recordingSink
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})

	cfg := config.EngineConfig{
		QuietStartHour:    22,
		QuietEndHour:      8,
		DailyPushCap:      1,
		BatchNonUrgentCap: 1,
		TopicCooldownHours: map[string]int{
			"hydration": 2,
			"nutrition": 3,
			"sleep":     8,
		},
		DefaultCooldownHrs: 6,
	}

	topics := topicstate.NewStore(rdb, cfg.TopicCooldownHours, cfg.DefaultCooldownHrs)
	messages := messagestore.NewStore(rdb)
	counters := NewCounters(rdb)
	sink := newRecordingSink()
	rt := New(topics, messages, counters, sink, zap.NewNop().Sugar(), cfg)

	return &fixture{router: rt, topics: topics, messages: messages, counters: counters, sink: sink}
}

// midday is inside the default delivery windows and outside quiet hours.
var midday = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

// lateNight is inside quiet hours (22-8).
var lateNight = time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)

func TestRoute_RejectsAIWithoutBecauseLine(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	for _, p := range []models.Priority{models.PriorityP0, models.PriorityP1, models.PriorityP2, models.PriorityP3} {
		c := models.CandidateMessage{
			Priority: p,
			Category: models.CategoryStress,
			Title:    "Breathe",
			Body:     "Take five minutes",
			IsAI:     true,
		}
		id, decision, err := f.router.deliver(ctx, "user123", c, midday)
		require.NoError(t, err)
		assert.False(t, decision.Accepted, "priority %s", p)
		assert.Equal(t, "ai candidate missing because line", decision.Reason)
		assert.Empty(t, id)
	}

	// A hard rejection has no side effects: nothing stored, topic untouched.
	active, err := f.messages.Active(ctx, "user123", midday)
	require.NoError(t, err)
	assert.Empty(t, active)
	ok, err := f.topics.CanShowTopic(ctx, "user123", "wellbeing", 6, midday)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRoute_AIWithBecauseLineAccepted(t *testing.T) {
	f := setupRouter(t)

	conf := 0.9
	c := models.CandidateMessage{
		Priority:    models.PriorityP2,
		Category:    models.CategoryStress,
		Title:       "Breathe",
		Body:        "Take five minutes",
		BecauseLine: "Your logged stress spiked twice today",
		Confidence:  &conf,
		IsAI:        true,
	}
	decision, err := f.router.route(context.Background(), "user123", c, midday)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
	assert.Equal(t, models.ChannelInbox, decision.Channel)
}

func TestRoute_TopicCooldown(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, f.topics.RecordMessageShown(ctx, "user123", "sleep", false, midday.Add(-1*time.Hour)))

	c := models.CandidateMessage{
		Priority: models.PriorityP2,
		Category: models.CategorySleep,
		Title:    "Sleep debt",
		Body:     "Short nights again",
	}
	decision, err := f.router.route(ctx, "user123", c, midday)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "cooldown")
}

func TestRoute_DedupCooldownAcrossTopics(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	first := models.CandidateMessage{
		Priority: models.PriorityP2,
		Category: models.CategoryNutrition,
		Title:    "Protein gap",
		Body:     "Low protein so far today",
		DedupKey: "protein-gap",
	}
	id, decision, err := f.router.deliver(ctx, "user123", first, midday)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.NotEmpty(t, id)

	// Same underlying fact resurfacing under another category minutes later.
	second := first
	second.Category = models.CategoryHydration
	decision, err = f.router.route(ctx, "user123", second, midday.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "suppression")
}

func TestRoute_ScenarioA_P0PushDuringQuietHours(t *testing.T) {
	f := setupRouter(t)

	c := models.CandidateMessage{
		Priority: models.PriorityP0,
		Category: models.CategorySleep,
		Title:    "Severe sleep disruption",
		Body:     "You have been awake past 4am three nights running",
	}
	id, decision, err := f.router.deliver(context.Background(), "user123", c, lateNight)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
	assert.Equal(t, models.ChannelPush, decision.Channel)
	assert.NotEmpty(t, id)

	pushed := f.sink.waitForPush(t)
	assert.Equal(t, id, pushed.ID)
}

func TestRoute_ScenarioB_LowerPriorityKeepsCurrent(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	_, err := f.messages.Add(ctx, "user123", models.RoutedMessage{
		Priority:  models.PriorityP1,
		Category:  models.CategorySleep,
		Topic:     "sleep",
		Title:     "Go to bed earlier tonight",
		Body:      "Aim for 22:30",
		Channel:   models.ChannelInbox,
		CreatedAt: midday.Add(-2 * time.Hour),
		ExpiresAt: midday.Add(10 * time.Hour),
	})
	require.NoError(t, err)

	window := 5.0
	c := models.CandidateMessage{
		Priority:      models.PriorityP2,
		Category:      models.CategorySleep,
		Title:         "Sleep tip",
		Body:          "Dim the lights after dinner",
		BecauseLine:   "x",
		UrgencyWindow: &window,
	}
	decision, err := f.router.route(ctx, "user123", c, midday)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Contains(t, decision.Reason, "outranks")
}

func TestDeliver_ReplaceSupersedesExisting(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	oldID, err := f.messages.Add(ctx, "user123", models.RoutedMessage{
		Priority:  models.PriorityP2,
		Category:  models.CategorySleep,
		Topic:     "sleep",
		Title:     "Sleep tip",
		Body:      "Dim the lights",
		Channel:   models.ChannelInbox,
		CreatedAt: midday.Add(-2 * time.Hour),
		ExpiresAt: midday.Add(6 * time.Hour),
	})
	require.NoError(t, err)

	c := models.CandidateMessage{
		Priority: models.PriorityP1,
		Category: models.CategorySleep,
		Title:    "Sleep slipping badly",
		Body:     "Under 6h three nights running",
	}
	newID, decision, err := f.router.deliver(ctx, "user123", c, midday)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	assert.Equal(t, []string{oldID}, decision.Supersedes)

	active, err := f.messages.Active(ctx, "user123", midday)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, newID, active[0].ID)
}

func TestDeliver_DailyPushBudget(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()
	window := 1.0

	first := models.CandidateMessage{
		Priority:      models.PriorityP1,
		Category:      models.CategoryNutrition,
		Title:         "Lunch window closing",
		Body:          "Eat before your 14:00 meeting",
		ActionRoute:   "/log-meal",
		UrgencyWindow: &window,
	}
	_, decision, err := f.router.deliver(ctx, "user123", first, midday)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	assert.Equal(t, models.ChannelPush, decision.Channel)
	f.sink.waitForPush(t)

	second := first
	second.Category = models.CategoryHydration
	second.Title = "Hydration reminder"
	second.ActionRoute = "/log-water"
	_, decision, err = f.router.deliver(ctx, "user123", second, midday)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	assert.Equal(t, models.ChannelInbox, decision.Channel, "push budget already consumed")

	// The counter reflects the single push, quietly observing the P0 exemption too.
	count, err := f.counters.PushCount(ctx, "user123", midday)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliver_QuietHoursDowngradeP1(t *testing.T) {
	f := setupRouter(t)
	window := 1.0

	c := models.CandidateMessage{
		Priority:      models.PriorityP1,
		Category:      models.CategorySleep,
		Title:         "Wind down now",
		Body:          "Screens off helps",
		ActionRoute:   "/wind-down",
		UrgencyWindow: &window,
	}
	_, decision, err := f.router.deliver(context.Background(), "user123", c, lateNight)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	assert.Equal(t, models.ChannelInbox, decision.Channel, "quiet hours downgrade everything but P0")
}

func TestDeliver_RecordsTopicState(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	c := models.CandidateMessage{
		Priority: models.PriorityP2,
		Category: models.CategoryNutrition,
		Title:    "Protein gap",
		Body:     "Low protein so far today",
	}
	id, decision, err := f.router.deliver(ctx, "user123", c, midday)
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.NotEmpty(t, id)

	// Immediately after delivery the topic is cooling down.
	ok, err := f.topics.CanShowTopic(ctx, "user123", "nutrition", 3, midday)
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := f.counters.NonUrgentCount(ctx, "user123", midday)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliverBatch_Caps(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	candidates := []models.CandidateMessage{
		{Priority: models.PriorityP3, Category: models.CategorySleep, Title: "Sleep tip", Body: "b"},
		{Priority: models.PriorityP2, Category: models.CategoryNutrition, Title: "Protein gap", Body: "b", BecauseLine: "low protein", IsAI: true},
		{Priority: models.PriorityP1, Category: models.CategoryHydration, Title: "Drink up", Body: "b"},
		{Priority: models.PriorityP2, Category: models.CategoryNutrition, Title: "Protein gap again", Body: "b"},
	}

	ids, err := f.router.DeliverBatch(ctx, "user123", candidates)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	active, err := f.messages.Active(ctx, "user123", time.Now())
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Highest priority delivered first; one topic and one non-urgent each.
	topics := map[string]int{}
	nonUrgent := 0
	for _, m := range active {
		topics[m.Topic]++
		if m.Priority.NonUrgent() {
			nonUrgent++
		}
	}
	for topic, n := range topics {
		assert.Equal(t, 1, n, "topic %s accepted more than once", topic)
	}
	assert.Equal(t, 1, nonUrgent)

	// The P1 hydration candidate leads the delivery order.
	first, err := f.messages.Get(ctx, "user123", ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.PriorityP1, first.Priority)
	assert.Equal(t, "hydration", first.Topic)
}

func TestDeliverBatch_StableOrderForTies(t *testing.T) {
	f := setupRouter(t)
	ctx := context.Background()

	candidates := []models.CandidateMessage{
		{Priority: models.PriorityP1, Category: models.CategorySleep, Title: "first", Body: "b"},
		{Priority: models.PriorityP1, Category: models.CategoryNutrition, Title: "second", Body: "b"},
	}
	ids, err := f.router.DeliverBatch(ctx, "user123", candidates)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first, err := f.messages.Get(ctx, "user123", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "first", first.Title)
}
