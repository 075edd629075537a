package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"liftmates/internal/model"
	"liftmates/internal/store"
)

const presenceRegisterRetries = 3

// PresenceTracker maintains each user's online/offline flag. Offline is
// written by the store's disconnect hook, so a dropped connection flips
// presence without any further call from the client.
type PresenceTracker struct {
	store store.Store
	now   func() time.Time
}

func NewPresenceTracker(st store.Store) *PresenceTracker {
	return &PresenceTracker{store: st, now: time.Now}
}

// SetOnline marks the user online and arms the disconnect hook. The online
// write goes first: if the hook were registered before the push and the
// connection dropped in between, presence could be left stuck online.
func (t *PresenceTracker) SetOnline(ctx context.Context, userID string) error {
	now := t.now().UTC()
	online, err := store.Encode(model.UserPresence{UserID: userID, IsOnline: true, LastSeenAt: now})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	if err := t.store.Write(ctx, presencePath(userID), online); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}

	offline, err := store.Encode(model.UserPresence{UserID: userID, IsOnline: false, LastSeenAt: now})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	// Registration failures are transient and presence is advisory: retry a
	// few times, then log and move on rather than failing the sign-in.
	var regErr error
	for attempt := 0; attempt < presenceRegisterRetries; attempt++ {
		if regErr = t.store.RegisterOnDisconnect(ctx, presencePath(userID), offline); regErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	log.Warn().Err(regErr).Str("user", userID).Msg("presence disconnect hook not registered")
	return nil
}

// SetOffline is the explicit sign-out path. UI teardown never calls this;
// disconnects are covered by the hook armed in SetOnline.
func (t *PresenceTracker) SetOffline(ctx context.Context, userID string) error {
	offline, err := store.Encode(model.UserPresence{UserID: userID, IsOnline: false, LastSeenAt: t.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	if err := t.store.Write(ctx, presencePath(userID), offline); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	if err := t.store.CancelOnDisconnect(ctx, presencePath(userID)); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("failed to cancel disconnect hook")
	}
	return nil
}

// Get returns the user's current presence, defaulting to offline when the
// user has never signed in.
func (t *PresenceTracker) Get(ctx context.Context, userID string) (*model.UserPresence, error) {
	raw, err := t.store.Read(ctx, presencePath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	if raw == nil {
		return &model.UserPresence{UserID: userID, IsOnline: false}, nil
	}
	var p model.UserPresence
	if err := store.Decode(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed presence record: %w", err)
	}
	return &p, nil
}

// Observe streams presence snapshots for userID. Detaching the stream does
// not clear presence; it only stops delivery.
func (t *PresenceTracker) Observe(ctx context.Context, userID string) (*Stream[model.UserPresence], error) {
	sub, err := t.store.Observe(ctx, presencePath(userID), store.ValueChanged)
	if err != nil {
		return nil, fmt.Errorf("failed to observe presence: %w", err)
	}
	return newStream(sub, func(ev store.Event) (model.UserPresence, bool) {
		if ev.Value == nil {
			return model.UserPresence{UserID: userID, IsOnline: false}, true
		}
		var p model.UserPresence
		if err := store.Decode(ev.Value, &p); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("malformed presence snapshot skipped")
			return model.UserPresence{}, false
		}
		return p, true
	}), nil
}
