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
	"liftmates/internal/repository"
	"liftmates/internal/store"
)

// ConversationAggregator derives unread counts and the conversation list
// from the append-only message log. It is a pure read-model: recomputed on
// every call, never maintained incrementally, so there is no second copy to
// drift out of sync.
type ConversationAggregator struct {
	messages repository.MessageRepo
	store    store.Store
	now      func() time.Time
}

func NewConversationAggregator(messages repository.MessageRepo, st store.Store) *ConversationAggregator {
	return &ConversationAggregator{messages: messages, store: st, now: time.Now}
}

// Send appends to the message log and mirrors the message into the store
// for live delivery. The log is authoritative; the store copy only feeds
// the push path.
func (a *ConversationAggregator) Send(ctx context.Context, fromID, toID, text string) (*model.Message, error) {
	msg := model.Message{
		ID:         uuid.NewString(),
		SenderID:   fromID,
		ReceiverID: toID,
		Text:       text,
		SentAt:     a.now().UTC(),
	}
	if err := a.messages.Insert(ctx, &msg); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if v, err := store.Encode(msg); err == nil {
		if err := a.store.Write(ctx, messagePath(msg.ID), v); err != nil {
			log.Warn().Err(err).Str("message", msg.ID).Msg("live message fan-out failed")
		}
	}
	observability.MessagesSent.Inc()
	return &msg, nil
}

// ObserveThread streams the two-way thread with otherID as messages are
// mirrored into the store, replaying already-mirrored history on attach.
func (a *ConversationAggregator) ObserveThread(ctx context.Context, selfID, otherID string) (*Stream[model.Message], error) {
	return a.observeMessages(ctx, func(m model.Message) bool {
		return (m.SenderID == selfID && m.ReceiverID == otherID) ||
			(m.SenderID == otherID && m.ReceiverID == selfID)
	})
}

// ObserveIncoming streams every message addressed to selfID, regardless of
// sender. The websocket push path fans these out to connected devices.
func (a *ConversationAggregator) ObserveIncoming(ctx context.Context, selfID string) (*Stream[model.Message], error) {
	return a.observeMessages(ctx, func(m model.Message) bool {
		return m.ReceiverID == selfID
	})
}

func (a *ConversationAggregator) observeMessages(ctx context.Context, keep func(model.Message) bool) (*Stream[model.Message], error) {
	sub, err := a.store.Observe(ctx, messagesRootPath(), store.ChildAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to observe messages: %w", err)
	}
	return newStream(sub, func(ev store.Event) (model.Message, bool) {
		var m model.Message
		if err := store.Decode(ev.Value, &m); err != nil {
			log.Warn().Err(err).Str("message", ev.Key).Msg("malformed message skipped")
			return model.Message{}, false
		}
		if !keep(m) {
			return model.Message{}, false
		}
		return m, true
	}), nil
}

// Thread returns the full two-way history with otherID, oldest first.
func (a *ConversationAggregator) Thread(ctx context.Context, selfID, otherID string) ([]model.Message, error) {
	msgs, err := a.messages.ListBetween(ctx, selfID, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread: %w", err)
	}
	return msgs, nil
}

// UnreadCount counts messages to selfID from otherID not yet marked read.
func (a *ConversationAggregator) UnreadCount(ctx context.Context, selfID, otherID string) (int, error) {
	n, err := a.messages.CountUnread(ctx, selfID, otherID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return int(n), nil
}

// MarkRead marks every currently unread message from otherID as read, one
// message at a time. Applying it per-message means a message arriving
// concurrently is never swept up by accident.
func (a *ConversationAggregator) MarkRead(ctx context.Context, selfID, otherID string) error {
	msgs, err := a.messages.ListUnread(ctx, selfID, otherID)
	if err != nil {
		return fmt.Errorf("failed to list unread: %w", err)
	}
	for _, m := range msgs {
		if err := a.messages.MarkRead(ctx, m.ID); err != nil {
			return fmt.Errorf("failed to mark message read: %w", err)
		}
	}
	return nil
}

// ListConversations groups the user's message log by counterpart, keeping
// the latest message and unread count per counterpart. Two differently
// keyed threads between the same pair collapse into one entry.
func (a *ConversationAggregator) ListConversations(ctx context.Context, selfID string) ([]model.Conversation, error) {
	msgs, err := a.messages.ListInvolving(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	byOther := make(map[string]*model.Conversation)
	for _, m := range msgs {
		other := m.SenderID
		if other == selfID {
			other = m.ReceiverID
		}
		if other == selfID {
			continue
		}
		c := byOther[other]
		if c == nil {
			c = &model.Conversation{OtherUserID: other}
			byOther[other] = c
		}
		// the log is sorted oldest first, so the last assignment wins
		c.LastMessage = m
		if m.ReceiverID == selfID && !m.IsRead {
			c.UnreadCount++
		}
	}
	out := make([]model.Conversation, 0, len(byOther))
	for _, c := range byOther {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out, nil
}
