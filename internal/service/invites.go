package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"liftmates/internal/model"
	"liftmates/internal/observability"
	"liftmates/internal/store"
)

// InviteBroker creates, lists and resolves time-boxed live-workout invites.
// An invite lives under the recipient's inbox for at most InviteTTL; after
// that every reader treats it as absent whether or not the scheduled
// deletion ever ran.
type InviteBroker struct {
	store    store.Store
	sessions *SessionCoordinator
	relay    *NotificationRelay
	now      func() time.Time
}

func NewInviteBroker(st store.Store, sessions *SessionCoordinator, relay *NotificationRelay) *InviteBroker {
	return &InviteBroker{store: st, sessions: sessions, relay: relay, now: time.Now}
}

// Send writes a pending invite into the recipient's inbox and schedules a
// best-effort deletion at expiry. The read path filters expired invites
// independently — the timer does not run if the process dies first.
func (b *InviteBroker) Send(ctx context.Context, fromID, fromName, toID string) (*model.LiveWorkoutInvite, error) {
	now := b.now().UTC()
	inv := model.LiveWorkoutInvite{
		ID:           uuid.NewString(),
		FromUserID:   fromID,
		FromUserName: fromName,
		ToUserID:     toID,
		Status:       model.InvitePending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(model.InviteTTL),
	}
	v, err := store.Encode(inv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invite: %w", err)
	}
	if err := b.store.Write(ctx, invitePath(toID, inv.ID), v); err != nil {
		return nil, fmt.Errorf("failed to write invite: %w", err)
	}
	time.AfterFunc(model.InviteTTL, func() { b.expire(toID, inv.ID) })
	observability.InvitesSent.Inc()
	return &inv, nil
}

func (b *InviteBroker) expire(toID, inviteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Remove(ctx, invitePath(toID, inviteID)); err != nil {
		log.Debug().Err(err).Str("invite", inviteID).Msg("scheduled invite deletion failed")
	}
}

// ListPending returns the recipient's pending, unexpired invites, oldest
// first. Malformed inbox entries are skipped, never failing the whole list.
func (b *InviteBroker) ListPending(ctx context.Context, userID string) ([]model.LiveWorkoutInvite, error) {
	raw, err := b.store.Read(ctx, inviteInboxPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read invite inbox: %w", err)
	}
	node, _ := raw.(map[string]any)
	now := b.now()
	out := make([]model.LiveWorkoutInvite, 0, len(node))
	for id, child := range node {
		var inv model.LiveWorkoutInvite
		if err := store.Decode(child, &inv); err != nil {
			log.Warn().Err(err).Str("invite", id).Msg("malformed invite skipped")
			continue
		}
		if inv.Status != model.InvitePending || inv.Expired(now) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ObserveInbox streams invites as they land in the recipient's inbox.
// Existing pending invites are replayed on attach.
func (b *InviteBroker) ObserveInbox(ctx context.Context, userID string) (*Stream[model.LiveWorkoutInvite], error) {
	sub, err := b.store.Observe(ctx, inviteInboxPath(userID), store.ChildAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to observe invite inbox: %w", err)
	}
	return newStream(sub, func(ev store.Event) (model.LiveWorkoutInvite, bool) {
		var inv model.LiveWorkoutInvite
		if err := store.Decode(ev.Value, &inv); err != nil {
			log.Warn().Err(err).Str("invite", ev.Key).Msg("malformed invite skipped")
			return model.LiveWorkoutInvite{}, false
		}
		if inv.Status != model.InvitePending || inv.Expired(b.now()) {
			return model.LiveWorkoutInvite{}, false
		}
		return inv, true
	}), nil
}

// Resolve accepts or rejects an invite. Exactly one resolver claims the
// record: the claim deletes it inside a transaction, so a raced second
// resolution (or a resolution after expiry) observes an absent invite and
// gets ErrNotFound — "too late", not a failure. On accept the session is
// created and the inviter's mailbox notified.
func (b *InviteBroker) Resolve(ctx context.Context, toID, toName, inviteID string, accept bool) (*model.SessionRef, error) {
	var claimed *model.LiveWorkoutInvite
	_, err := b.store.Transaction(ctx, invitePath(toID, inviteID), func(cur store.Value) (store.Value, error) {
		claimed = nil
		if cur == nil {
			return nil, nil
		}
		var inv model.LiveWorkoutInvite
		if err := store.Decode(cur, &inv); err != nil {
			// corrupt record: delete it and treat as gone
			return nil, nil
		}
		claimed = &inv
		return nil, nil // terminal resolution removes the record
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim invite: %w", err)
	}
	if claimed == nil || claimed.Expired(b.now()) {
		observability.InvitesResolved.WithLabelValues("missed").Inc()
		return nil, ErrNotFound
	}

	if !accept {
		observability.InvitesResolved.WithLabelValues("rejected").Inc()
		return nil, nil
	}

	sess, err := b.sessions.Create(ctx, claimed.FromUserID, claimed.FromUserName, toID, toName)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := b.relay.Notify(ctx, claimed.FromUserID, sess.ID); err != nil {
		return nil, fmt.Errorf("failed to notify inviter: %w", err)
	}
	observability.InvitesResolved.WithLabelValues("accepted").Inc()
	return &model.SessionRef{SessionID: sess.ID}, nil
}
