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

// SessionCoordinator owns the lifecycle and concurrent mutation of live
// workout sessions. Exercises and sets are grow-only: every mutation is an
// insert under a freshly minted id, so concurrent writes from the two
// participants converge to the union without locks or transactions.
type SessionCoordinator struct {
	store store.Store
	now   func() time.Time
}

func NewSessionCoordinator(st store.Store) *SessionCoordinator {
	return &SessionCoordinator{store: st, now: time.Now}
}

// Storage shapes. Exercises and sets are keyed maps in the store (insert
// keyed by fresh id); the API surfaces them as slices sorted by (Seq, ID).
type sessionRecord struct {
	ID           string            `json:"id"`
	ParticipantA model.Participant `json:"participantA"`
	ParticipantB model.Participant `json:"participantB"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	EndedAt      *time.Time        `json:"endedAt,omitempty"`
}

type exerciseRecord struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	OwnerUserID   string      `json:"ownerUserId"`
	Seq           int64       `json:"seq"`
	ReferenceSets []model.Set `json:"referenceSets,omitempty"`
}

// Create allocates a session for the two fixed participants.
func (c *SessionCoordinator) Create(ctx context.Context, aID, aName, bID, bName string) (*model.LiveWorkoutSession, error) {
	now := c.now().UTC()
	rec := sessionRecord{
		ID:           uuid.NewString(),
		ParticipantA: model.Participant{ID: aID, Name: aName},
		ParticipantB: model.Participant{ID: bID, Name: bName},
		Status:       string(model.SessionActive),
		CreatedAt:    now,
	}
	v, err := store.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.store.Write(ctx, sessionPath(rec.ID), v); err != nil {
		return nil, fmt.Errorf("failed to write session: %w", err)
	}
	for _, uid := range []string{aID, bID} {
		partner := bID
		if uid == bID {
			partner = aID
		}
		idx, err := store.Encode(map[string]any{"sessionId": rec.ID, "partnerId": partner, "createdAt": now})
		if err == nil {
			err = c.store.Write(ctx, sessionIndexPath(uid, rec.ID), idx)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write session index: %w", err)
		}
	}
	observability.ActiveSessions.Inc()
	return &model.LiveWorkoutSession{
		ID:           rec.ID,
		ParticipantA: rec.ParticipantA,
		ParticipantB: rec.ParticipantB,
		Status:       model.SessionActive,
		CreatedAt:    now,
		Exercises:    []model.Exercise{},
	}, nil
}

// Get returns the session, or ErrNotFound if it does not exist.
func (c *SessionCoordinator) Get(ctx context.Context, sessionID string) (*model.LiveWorkoutSession, error) {
	raw, err := c.store.Read(ctx, sessionPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return decodeSession(raw)
}

// AddExercise inserts an exercise owned by the caller. Ownership must match
// the calling participant and is immutable once set.
func (c *SessionCoordinator) AddExercise(ctx context.Context, sessionID string, ex model.Exercise, byUserID string) (*model.Exercise, error) {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(byUserID) {
		return nil, ErrForbidden
	}
	if ex.OwnerUserID != "" && ex.OwnerUserID != byUserID {
		return nil, ErrForbidden
	}
	if sess.Status == model.SessionEnded {
		return nil, ErrSessionEnded
	}

	rec := exerciseRecord{
		ID:            uuid.NewString(),
		Name:          ex.Name,
		OwnerUserID:   byUserID,
		Seq:           c.now().UnixMilli(),
		ReferenceSets: ex.ReferenceSets,
	}
	v, err := store.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode exercise: %w", err)
	}
	if err := c.store.Write(ctx, exercisePath(sessionID, rec.ID), v); err != nil {
		return nil, fmt.Errorf("failed to write exercise: %w", err)
	}
	observability.ExercisesAdded.Inc()
	return &model.Exercise{
		ID:            rec.ID,
		Name:          rec.Name,
		OwnerUserID:   rec.OwnerUserID,
		Seq:           rec.Seq,
		Sets:          []model.Set{},
		ReferenceSets: rec.ReferenceSets,
	}, nil
}

// AddSet appends a set to an exercise. Either participant may add sets to
// any exercise; the fresh set id makes concurrent appends commute.
func (c *SessionCoordinator) AddSet(ctx context.Context, sessionID, exerciseID string, set model.Set, byUserID string) (*model.Set, error) {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(byUserID) {
		return nil, ErrForbidden
	}
	if sess.Status == model.SessionEnded {
		return nil, ErrSessionEnded
	}
	if !hasExercise(sess, exerciseID) {
		return nil, ErrNotFound
	}

	set.ID = uuid.NewString()
	set.AddedByUserID = byUserID
	set.Seq = c.now().UnixMilli()
	v, err := store.Encode(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode set: %w", err)
	}
	if err := c.store.Write(ctx, setPath(sessionID, exerciseID, set.ID), v); err != nil {
		return nil, fmt.Errorf("failed to write set: %w", err)
	}
	observability.SetsAdded.Inc()
	return &set, nil
}

// End marks the session ended. Status is monotonic; ending an already-ended
// session is a no-op. Clients that have observed the ended status treat any
// further local mutation as a no-op — the store is not trusted to reject
// stragglers server-side.
func (c *SessionCoordinator) End(ctx context.Context, sessionID, byUserID string) error {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.HasParticipant(byUserID) {
		return ErrForbidden
	}
	if sess.Status == model.SessionEnded {
		return nil
	}
	now := c.now().UTC()
	err = c.store.Update(ctx, sessionPath(sessionID), map[string]store.Value{
		"status":  string(model.SessionEnded),
		"endedAt": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	observability.ActiveSessions.Dec()
	return nil
}

// Observe streams session snapshots: every committed mutation, own and
// partner's, in the store's per-path order. Cross-path interleavings (an
// exercise insert vs. a set insert) carry no relative ordering; the stream
// simply reflects whatever state exists at each commit.
func (c *SessionCoordinator) Observe(ctx context.Context, sessionID string) (*Stream[model.LiveWorkoutSession], error) {
	sub, err := c.store.Observe(ctx, sessionPath(sessionID), store.ValueChanged)
	if err != nil {
		return nil, fmt.Errorf("failed to observe session: %w", err)
	}
	return newStream(sub, func(ev store.Event) (model.LiveWorkoutSession, bool) {
		sess, err := decodeSession(ev.Value)
		if err != nil {
			return model.LiveWorkoutSession{}, false
		}
		return *sess, true
	}), nil
}

// ListFor returns the sessions a user participates in, via the per-user
// index pointers.
func (c *SessionCoordinator) ListFor(ctx context.Context, userID string) ([]model.LiveWorkoutSession, error) {
	raw, err := c.store.Read(ctx, "userLiveWorkouts/"+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	node, _ := raw.(map[string]any)
	out := make([]model.LiveWorkoutSession, 0, len(node))
	for sessionID := range node {
		sess, err := c.Get(ctx, sessionID)
		if err != nil {
			// dangling pointer: the session record is gone
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func hasExercise(sess *model.LiveWorkoutSession, exerciseID string) bool {
	for _, ex := range sess.Exercises {
		if ex.ID == exerciseID {
			return true
		}
	}
	return false
}

// decodeSession tolerates malformed children: a corrupt exercise or set is
// skipped with a warning, never failing the whole read.
func decodeSession(v store.Value) (*model.LiveWorkoutSession, error) {
	if v == nil {
		return nil, ErrNotFound
	}
	var rec sessionRecord
	if err := store.Decode(v, &rec); err != nil {
		return nil, fmt.Errorf("malformed session record: %w", err)
	}
	sess := &model.LiveWorkoutSession{
		ID:           rec.ID,
		ParticipantA: rec.ParticipantA,
		ParticipantB: rec.ParticipantB,
		Status:       model.SessionStatus(rec.Status),
		CreatedAt:    rec.CreatedAt,
		EndedAt:      rec.EndedAt,
		Exercises:    []model.Exercise{},
	}
	node, _ := v.(map[string]any)
	exNode, _ := node["exercises"].(map[string]any)
	for id, raw := range exNode {
		ex, ok := decodeExercise(id, raw)
		if !ok {
			log.Warn().Str("session", rec.ID).Str("exercise", id).Msg("malformed exercise skipped")
			continue
		}
		sess.Exercises = append(sess.Exercises, ex)
	}
	sortExercises(sess.Exercises)
	return sess, nil
}

func decodeExercise(id string, raw store.Value) (model.Exercise, bool) {
	var rec exerciseRecord
	if err := store.Decode(raw, &rec); err != nil {
		return model.Exercise{}, false
	}
	if rec.OwnerUserID == "" {
		// ownership determines which column renders the exercise; a record
		// without it cannot be placed
		return model.Exercise{}, false
	}
	if rec.ID == "" {
		rec.ID = id
	}
	ex := model.Exercise{
		ID:            rec.ID,
		Name:          rec.Name,
		OwnerUserID:   rec.OwnerUserID,
		Seq:           rec.Seq,
		Sets:          []model.Set{},
		ReferenceSets: rec.ReferenceSets,
	}
	node, _ := raw.(map[string]any)
	setNode, _ := node["sets"].(map[string]any)
	for sid, sraw := range setNode {
		var s model.Set
		if err := store.Decode(sraw, &s); err != nil {
			log.Warn().Str("exercise", rec.ID).Str("set", sid).Msg("malformed set skipped")
			continue
		}
		if s.ID == "" {
			s.ID = sid
		}
		ex.Sets = append(ex.Sets, s)
	}
	sortSets(ex.Sets)
	return ex, true
}

// Deterministic read-time ordering: explicit sequence first, id as the
// tie-break, so both clients render identical lists regardless of map
// iteration order.
func sortExercises(exs []model.Exercise) {
	sort.Slice(exs, func(i, j int) bool {
		if exs[i].Seq != exs[j].Seq {
			return exs[i].Seq < exs[j].Seq
		}
		return exs[i].ID < exs[j].ID
	})
}

func sortSets(sets []model.Set) {
	sort.Slice(sets, func(i, j int) bool {
		if sets[i].Seq != sets[j].Seq {
			return sets[i].Seq < sets[j].Seq
		}
		return sets[i].ID < sets[j].ID
	})
}
