package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kkkkikiki/promo/internal/clock"
	"github.com/kkkkikiki/promo/internal/model"
)

const (
	// RecipientAdmin is the shared admin feed
	RecipientAdmin = "admin"

	feedLength   = 100
	defaultLimit = 20
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrRecipientMissing = errors.New("recipient is required")
)

// AgentRecipient returns the feed name of one agent
func AgentRecipient(agentID string) string {
	return "agent:" + agentID
}

// Feed is a page of notifications for one recipient. Unread counts every
// unread entry still in the feed, not only the returned page.
type Feed struct {
	Notifications []model.Notification `json:"notifications"`
	Unread        int                  `json:"unread"`
}

// Notifier stores per-recipient notification feeds in Redis and fans new
// entries out over pub/sub.
type Notifier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  clock.Clock
}

// New creates a notifier. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string, ttl time.Duration, c clock.Clock) *Notifier {
	if strings.TrimSpace(prefix) == "" {
		prefix = "promo"
	}
	if c == nil {
		c = clock.NewSystem()
	}
	return &Notifier{client: client, prefix: prefix, ttl: ttl, clock: c}
}

func (n *Notifier) itemKey(id string) string {
	return fmt.Sprintf("%s:notification:%s", n.prefix, id)
}

func (n *Notifier) feedKey(recipient string) string {
	return fmt.Sprintf("%s:feed:%s", n.prefix, recipient)
}

// Channel is the pub/sub channel new notifications for recipient are sent on
func (n *Notifier) Channel(recipient string) string {
	return fmt.Sprintf("%s:notifications:%s", n.prefix, recipient)
}

// Publish stores a notification and pushes it onto the recipient feed
func (n *Notifier) Publish(ctx context.Context, recipient string, kind model.NotificationKind, title, message string) (model.Notification, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return model.Notification{}, ErrRecipientMissing
	}

	notification := model.Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: n.clock.Now(),
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to encode notification: %w", err)
	}

	_, err = n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, n.itemKey(notification.ID), payload, n.ttl)
		pipe.LPush(ctx, n.feedKey(recipient), notification.ID)
		pipe.LTrim(ctx, n.feedKey(recipient), 0, feedLength-1)
		pipe.Publish(ctx, n.Channel(recipient), payload)
		return nil
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to publish notification: %w", err)
	}
	return notification, nil
}

// List returns the newest notifications of recipient. Expired entries are skipped.
// limit defaults to 20 and is capped at the feed length.
func (n *Notifier) List(ctx context.Context, recipient string, limit int) (Feed, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return Feed{}, ErrRecipientMissing
	}
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > feedLength:
		limit = feedLength
	}

	ids, err := n.client.LRange(ctx, n.feedKey(recipient), 0, feedLength-1).Result()
	if err != nil {
		return Feed{}, fmt.Errorf("failed to read feed: %w", err)
	}
	feed := Feed{Notifications: make([]model.Notification, 0, min(limit, len(ids)))}
	if len(ids) == 0 {
		return feed, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = n.itemKey(id)
	}
	values, err := n.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Feed{}, fmt.Errorf("failed to read notifications: %w", err)
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var notification model.Notification
		if err := json.Unmarshal([]byte(raw), &notification); err != nil {
			continue
		}
		if !notification.Read {
			feed.Unread++
		}
		if len(feed.Notifications) < limit {
			feed.Notifications = append(feed.Notifications, notification)
		}
	}
	return feed, nil
}

// MarkRead flags one notification as read, keeping its expiry
func (n *Notifier) MarkRead(ctx context.Context, id string) error {
	key := n.itemKey(strings.TrimSpace(id))
	raw, err := n.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read notification: %w", err)
	}

	var notification model.Notification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return fmt.Errorf("failed to decode notification: %w", err)
	}
	if notification.Read {
		return nil
	}
	notification.Read = true

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.client.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription to the recipient channel
func (n *Notifier) Subscribe(ctx context.Context, recipient string) *redis.PubSub {
	return n.client.Subscribe(ctx, n.Channel(recipient))
}

// Ping checks the Redis connection
func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
