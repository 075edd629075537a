package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"liftmates/internal/model"
	"liftmates/internal/store"
)

// notificationMaxAge bounds the recovery scan: older join notifications are
// considered stale and excluded.
const notificationMaxAge = 5 * time.Minute

// NotificationRelay is the one-shot mailbox through which the inviter,
// waiting for acceptance, discovers the session id chosen by the acceptor.
type NotificationRelay struct {
	store store.Store
	now   func() time.Time
}

func NewNotificationRelay(st store.Store) *NotificationRelay {
	return &NotificationRelay{store: st, now: time.Now}
}

// Notify drops a join notification into userID's mailbox. The record is
// keyed by session id, so repeated notifications for the same session
// overwrite rather than duplicate.
func (r *NotificationRelay) Notify(ctx context.Context, userID, sessionID string) error {
	v, err := store.Encode(model.SessionJoinNotification{
		SessionID: sessionID,
		Timestamp: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := r.store.Write(ctx, notificationPath(userID, sessionID), v); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Consume streams arriving notifications. After acting on one, the consumer
// must Ack it so an observation replay cannot re-trigger the join.
func (r *NotificationRelay) Consume(ctx context.Context, userID string) (*Stream[model.SessionJoinNotification], error) {
	sub, err := r.store.Observe(ctx, notificationInboxPath(userID), store.ChildAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to observe mailbox: %w", err)
	}
	return newStream(sub, func(ev store.Event) (model.SessionJoinNotification, bool) {
		var n model.SessionJoinNotification
		if err := store.Decode(ev.Value, &n); err != nil {
			log.Warn().Err(err).Str("key", ev.Key).Msg("malformed notification skipped")
			return model.SessionJoinNotification{}, false
		}
		if n.SessionID == "" {
			n.SessionID = ev.Key
		}
		return n, true
	}), nil
}

// Ack deletes a consumed notification.
func (r *NotificationRelay) Ack(ctx context.Context, userID, sessionID string) error {
	if err := r.store.Remove(ctx, notificationPath(userID, sessionID)); err != nil {
		return fmt.Errorf("failed to ack notification: %w", err)
	}
	return nil
}

// ListPendingSessions is the recovery path for an inviter whose app died
// before the push arrived: it reads all not-yet-stale notifications and
// keeps those whose referenced session is still active.
func (r *NotificationRelay) ListPendingSessions(ctx context.Context, userID string) ([]model.LiveWorkoutSession, error) {
	raw, err := r.store.Read(ctx, notificationInboxPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox: %w", err)
	}
	node, _ := raw.(map[string]any)
	now := r.now()
	out := make([]model.LiveWorkoutSession, 0, len(node))
	for key, child := range node {
		var n model.SessionJoinNotification
		if err := store.Decode(child, &n); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("malformed notification skipped")
			continue
		}
		if n.SessionID == "" {
			n.SessionID = key
		}
		if now.Sub(n.Timestamp) > notificationMaxAge {
			continue
		}
		sraw, err := r.store.Read(ctx, sessionPath(n.SessionID))
		if err != nil {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		sess, err := decodeSession(sraw)
		if err != nil {
			continue // session gone or corrupt: nothing to rejoin
		}
		if sess.Status != model.SessionActive {
			continue
		}
		out = append(out, *sess)
	}
	return out, nil
}
