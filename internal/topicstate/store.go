package topicstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention keeps per-user engagement state from lingering forever for
// users who stop opening the app.
const retention = 90 * 24 * time.Hour

// maxOpenSamples caps the learned app-open history per user.
const maxOpenSamples = 50

// TopicState is the persistent per-user, per-topic bookkeeping record.
type TopicState struct {
	LastShown    time.Time `json:"last_shown"`
	LastPush     time.Time `json:"last_push"`
	DismissCount int       `json:"dismiss_count"`
}

// Store tracks per-topic cooldowns and engagement signals in redis.
type Store struct {
	redis           *redis.Client
	cooldowns       map[string]int
	defaultCooldown int
}

func NewStore(rdb *redis.Client, cooldowns map[string]int, defaultCooldownHours int) *Store {
	if defaultCooldownHours <= 0 {
		defaultCooldownHours = 6
	}
	return &Store{
		redis:           rdb,
		cooldowns:       cooldowns,
		defaultCooldown: defaultCooldownHours,
	}
}

func stateKey(userID, topic string) string {
	return fmt.Sprintf("coach:topicstate:%s:%s", userID, topic)
}

func openingsKey(userID string) string {
	return fmt.Sprintf("coach:openings:%s", userID)
}

// CooldownHours returns the configured cooldown for a topic, falling back
// to the default for topics without an explicit entry.
func (s *Store) CooldownHours(topic string) int {
	if h, ok := s.cooldowns[topic]; ok {
		return h
	}
	return s.defaultCooldown
}

func (s *Store) get(ctx context.Context, userID, topic string) (*TopicState, error) {
	raw, err := s.redis.Get(ctx, stateKey(userID, topic)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic state: %w", err)
	}
	var state TopicState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode topic state: %w", err)
	}
	return &state, nil
}

func (s *Store) put(ctx context.Context, userID, topic string, state *TopicState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, stateKey(userID, topic), raw, retention).Err()
}

// CanShowTopic reports whether the topic's cooldown has elapsed. A topic
// never shown before is always showable.
func (s *Store) CanShowTopic(ctx context.Context, userID, topic string, cooldownHours int, now time.Time) (bool, error) {
	state, err := s.get(ctx, userID, topic)
	if err != nil {
		return false, err
	}
	if state == nil || state.LastShown.IsZero() {
		return true, nil
	}
	cooldown := time.Duration(cooldownHours) * time.Hour
	return now.Sub(state.LastShown) >= cooldown, nil
}

// RecordMessageShown stamps the topic's last-shown time, and last-push when
// the message went out on the push channel.
func (s *Store) RecordMessageShown(ctx context.Context, userID, topic string, wasPush bool, now time.Time) error {
	state, err := s.get(ctx, userID, topic)
	if err != nil {
		return err
	}
	if state == nil {
		state = &TopicState{}
	}
	state.LastShown = now
	if wasPush {
		state.LastPush = now
	}
	return s.put(ctx, userID, topic, state)
}

// RecordDismiss bumps the topic's dismiss counter. Habitual dismissals damp
// future relevance scoring for the topic.
func (s *Store) RecordDismiss(ctx context.Context, userID, topic string) error {
	state, err := s.get(ctx, userID, topic)
	if err != nil {
		return err
	}
	if state == nil {
		state = &TopicState{}
	}
	state.DismissCount++
	return s.put(ctx, userID, topic, state)
}

// DismissCount returns how many messages the user has dismissed on a topic.
func (s *Store) DismissCount(ctx context.Context, userID, topic string) (int, error) {
	state, err := s.get(ctx, userID, topic)
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}
	return state.DismissCount, nil
}

// RecordAppOpen appends an app-open timestamp to the user's learned
// delivery-hour history, keeping only the most recent samples.
func (s *Store) RecordAppOpen(ctx context.Context, userID string, now time.Time) error {
	opens, err := s.PreferredHours(ctx, userID)
	if err != nil {
		return err
	}
	opens = append(opens, now)
	if len(opens) > maxOpenSamples {
		opens = opens[len(opens)-maxOpenSamples:]
	}
	raw, err := json.Marshal(opens)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, openingsKey(userID), raw, retention).Err()
}

// PreferredHours returns the recorded app-open timestamps, oldest first.
func (s *Store) PreferredHours(ctx context.Context, userID string) ([]time.Time, error) {
	raw, err := s.redis.Get(ctx, openingsKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get app opens: %w", err)
	}
	var opens []time.Time
	if err := json.Unmarshal([]byte(raw), &opens); err != nil {
		return nil, fmt.Errorf("decode app opens: %w", err)
	}
	return opens, nil
}
