package messagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/franzego/coachengine/internal/models"
)

// maxActive bounds the per-user inbox so a runaway producer cannot fill
// redis. Add signals failure once the bound is reached.
const maxActive = 200

// dedupWindows is the suppression window per priority: the same dedup key
// is rejected again within the window. P0 is never suppressed.
var dedupWindows = map[models.Priority]time.Duration{
	models.PriorityP0: 0,
	models.PriorityP1: 1 * time.Hour,
	models.PriorityP2: 6 * time.Hour,
	models.PriorityP3: 12 * time.Hour,
}

var ErrStoreFull = errors.New("message store full")

// Store persists routed messages and dedup suppression windows in redis.
type Store struct {
	redis *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{redis: rdb}
}

func messagesKey(userID string) string {
	return fmt.Sprintf("coach:messages:%s", userID)
}

func dedupKey(userID, key string) string {
	return fmt.Sprintf("coach:dedup:%s:%s", userID, key)
}

// CanSend reports whether a candidate with the given dedup key is outside
// its suppression window. Empty keys and P0 candidates always pass.
func (s *Store) CanSend(ctx context.Context, userID, key string, priority models.Priority) (bool, error) {
	if key == "" || dedupWindows[priority] == 0 {
		return true, nil
	}
	exists, err := s.redis.Exists(ctx, dedupKey(userID, key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return exists == 0, nil
}

// Add persists a routed message and arms its dedup window. The returned id
// is empty on failure; a full store is reported as ErrStoreFull rather than
// silently dropping.
func (s *Store) Add(ctx context.Context, userID string, msg models.RoutedMessage) (string, error) {
	if msg.Title == "" || msg.Topic == "" || !msg.Priority.Valid() {
		return "", fmt.Errorf("invalid message fields for topic %q", msg.Topic)
	}
	count, err := s.redis.HLen(ctx, messagesKey(userID)).Result()
	if err != nil {
		return "", fmt.Errorf("store size check: %w", err)
	}
	if count >= maxActive {
		return "", ErrStoreFull
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := s.redis.HSet(ctx, messagesKey(userID), msg.ID, raw).Err(); err != nil {
		return "", fmt.Errorf("persist message: %w", err)
	}

	if msg.DedupKey != "" {
		if window := dedupWindows[msg.Priority]; window > 0 {
			if err := s.redis.Set(ctx, dedupKey(userID, msg.DedupKey), msg.ID, window).Err(); err != nil {
				// Suppression is advisory; the message itself is already committed.
				return msg.ID, nil
			}
		}
	}
	return msg.ID, nil
}

// Get fetches a single message by id, nil when absent.
func (s *Store) Get(ctx context.Context, userID, id string) (*models.RoutedMessage, error) {
	raw, err := s.redis.HGet(ctx, messagesKey(userID), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	var msg models.RoutedMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

func (s *Store) all(ctx context.Context, userID string) ([]models.RoutedMessage, error) {
	raw, err := s.redis.HGetAll(ctx, messagesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs := make([]models.RoutedMessage, 0, len(raw))
	for _, v := range raw {
		var msg models.RoutedMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Active returns all non-dismissed, non-expired messages, newest first.
func (s *Store) Active(ctx context.Context, userID string, now time.Time) ([]models.RoutedMessage, error) {
	msgs, err := s.all(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := msgs[:0]
	for _, m := range msgs {
		if !m.Dismissed && !m.Expired(now) {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	return active, nil
}

// ActiveForTopic returns the newest active message on a topic, nil if none.
// Expired-but-unswept entries are surfaced too so the collision resolver
// can rule on them.
func (s *Store) ActiveForTopic(ctx context.Context, userID, topic string, now time.Time) (*models.RoutedMessage, error) {
	msgs, err := s.all(ctx, userID)
	if err != nil {
		return nil, err
	}
	var newest *models.RoutedMessage
	for i := range msgs {
		m := &msgs[i]
		if m.Topic != topic || m.Dismissed {
			continue
		}
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = m
		}
	}
	return newest, nil
}

// Dismiss marks a message dismissed. Idempotent; returns the message so
// callers can attribute the dismissal to its topic, nil when absent.
func (s *Store) Dismiss(ctx context.Context, userID, id string) (*models.RoutedMessage, error) {
	msg, err := s.Get(ctx, userID, id)
	if err != nil || msg == nil {
		return nil, err
	}
	if msg.Dismissed {
		return msg, nil
	}
	msg.Dismissed = true
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.redis.HSet(ctx, messagesKey(userID), id, raw).Err(); err != nil {
		return nil, fmt.Errorf("dismiss message: %w", err)
	}
	return msg, nil
}

// ClearExpired removes every message past its TTL for one user. Safe to
// call at any time; non-expired entries are untouched.
func (s *Store) ClearExpired(ctx context.Context, userID string, now time.Time) (int, error) {
	msgs, err := s.all(ctx, userID)
	if err != nil {
		return 0, err
	}
	var expired []string
	for _, m := range msgs {
		if m.Expired(now) {
			expired = append(expired, m.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.redis.HDel(ctx, messagesKey(userID), expired...).Err(); err != nil {
		return 0, fmt.Errorf("clear expired: %w", err)
	}
	return len(expired), nil
}

// SweepAll runs the expiry sweep across every user with stored messages.
// Used by the periodic cleanup job.
func (s *Store) SweepAll(ctx context.Context, now time.Time) (int, error) {
	var removed int
	iter := s.redis.Scan(ctx, 0, "coach:messages:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := key[len("coach:messages:"):]
		n, err := s.ClearExpired(ctx, userID, now)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep scan: %w", err)
	}
	return removed, nil
}
