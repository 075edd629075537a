package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"liftmates/internal/model"
)

// fakeUserRepo is an in-memory UserRepo for tests.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) SetUsername(_ context.Context, id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Username = username
	}
	return nil
}

// fakeMessageRepo is an in-memory append-only message log.
type fakeMessageRepo struct {
	mu   sync.Mutex
	msgs []model.Message
}

func newFakeMessageRepo() *fakeMessageRepo { return &fakeMessageRepo{} }

func (r *fakeMessageRepo) Insert(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, *msg)
	return nil
}

func (r *fakeMessageRepo) snapshot(keep func(m model.Message) bool) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, 0, len(r.msgs))
	for _, m := range r.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

func (r *fakeMessageRepo) ListInvolving(_ context.Context, userID string) ([]model.Message, error) {
	return r.snapshot(func(m model.Message) bool {
		return m.SenderID == userID || m.ReceiverID == userID
	}), nil
}

func (r *fakeMessageRepo) ListBetween(_ context.Context, a, b string) ([]model.Message, error) {
	return r.snapshot(func(m model.Message) bool {
		return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
	}), nil
}

func (r *fakeMessageRepo) ListUnread(_ context.Context, receiverID, senderID string) ([]model.Message, error) {
	return r.snapshot(func(m model.Message) bool {
		return m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead
	}), nil
}

func (r *fakeMessageRepo) CountUnread(ctx context.Context, receiverID, senderID string) (int64, error) {
	msgs, _ := r.ListUnread(ctx, receiverID, senderID)
	return int64(len(msgs)), nil
}

func (r *fakeMessageRepo) MarkRead(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == messageID {
			r.msgs[i].IsRead = true
		}
	}
	return nil
}

// recvStream pulls the next value off a stream or fails the test.
func recvStream[T any](t *testing.T, updates <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-updates:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream update")
	}
	var zero T
	return zero
}
