package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"liftmates/internal/repository"
	"liftmates/internal/store"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// SocialService isolates the two paths that genuinely need compare-and-set:
// global username uniqueness and like toggling. Everything in the live
// session subsystem deliberately avoids this pattern via grow-only inserts.
type SocialService struct {
	store store.Store
	users repository.UserRepo
}

func NewSocialService(st store.Store, users repository.UserRepo) *SocialService {
	return &SocialService{store: st, users: users}
}

// ClaimUsername atomically claims a username for userID. The claim record
// is the source of truth for uniqueness; the profile document follows it.
func (s *SocialService) ClaimUsername(ctx context.Context, userID, username string) error {
	name := strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(name) {
		return ErrUsernameInvalid
	}

	_, err := s.store.Transaction(ctx, usernamePath(name), func(cur store.Value) (store.Value, error) {
		if cur == nil {
			return map[string]any{"userId": userID}, nil
		}
		var rec struct {
			UserID string `json:"userId"`
		}
		if err := store.Decode(cur, &rec); err != nil {
			return nil, fmt.Errorf("malformed username claim: %w", err)
		}
		if rec.UserID != userID {
			return nil, ErrUsernameTaken
		}
		return cur, nil // already ours: idempotent
	})
	if err != nil {
		return err
	}

	// release the previous claim, if any
	if user, err := s.users.GetByID(ctx, userID); err == nil && user != nil &&
		user.Username != "" && user.Username != name {
		if err := s.store.Remove(ctx, usernamePath(user.Username)); err != nil {
			return fmt.Errorf("failed to release old username: %w", err)
		}
	}

	if err := s.users.SetUsername(ctx, userID, name); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

type likeRecord struct {
	Count int             `json:"count"`
	Users map[string]bool `json:"users,omitempty"`
}

// ToggleLike flips userID's like on a post inside a store transaction, so
// two rapid taps (or two devices) never double-count.
func (s *SocialService) ToggleLike(ctx context.Context, postID, userID string) (liked bool, count int, err error) {
	committed, err := s.store.Transaction(ctx, postLikesPath(postID), func(cur store.Value) (store.Value, error) {
		var rec likeRecord
		if cur != nil {
			if err := store.Decode(cur, &rec); err != nil {
				return nil, fmt.Errorf("malformed like record: %w", err)
			}
		}
		if rec.Users == nil {
			rec.Users = make(map[string]bool)
		}
		if rec.Users[userID] {
			delete(rec.Users, userID)
		} else {
			rec.Users[userID] = true
		}
		rec.Count = len(rec.Users)
		if rec.Count == 0 {
			return nil, nil // last like removed: drop the record
		}
		return store.Encode(rec)
	})
	if err != nil {
		return false, 0, err
	}
	if committed == nil {
		return false, 0, nil
	}
	var rec likeRecord
	if err := store.Decode(committed, &rec); err != nil {
		return false, 0, fmt.Errorf("malformed like record: %w", err)
	}
	return rec.Users[userID], rec.Count, nil
}
