package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	recKeyPrefix  = "kv:"
	chanPrefix    = "kvch:"
	heartbeatKey  = "kvhb:"
	disconnectKey = "kvdisc:"
	reapLockKey   = "kvdlk:"

	heartbeatTTL    = 15 * time.Second
	heartbeatPeriod = 5 * time.Second
	reapPeriod      = 10 * time.Second
)

// Redis is a Store backed by a Redis server. A path's first two segments
// ("collection/id") address one record, stored as a single JSON document;
// deeper segments are fields inside that document, mutated with WATCH-based
// read-modify-write. Every commit publishes the mutated path on the
// record's channel and observers re-read the record, so delivered snapshots
// are monotone in commit order.
//
// Disconnect hooks live in a per-connection hash guarded by a heartbeat
// key; a background reaper applies the hooks of any connection whose
// heartbeat has expired.
type Redis struct {
	client *redis.Client
	connID string
	done   chan struct{}
}

// NewRedis wraps client as one logical store connection and starts its
// heartbeat and reaper loops. The caller keeps ownership of client until
// Close.
func NewRedis(client *redis.Client) *Redis {
	r := &Redis{
		client: client,
		connID: uuid.NewString(),
		done:   make(chan struct{}),
	}
	go r.heartbeatLoop()
	go r.reapLoop()
	return r
}

func recordKey(segs []string) string  { return recKeyPrefix + segs[0] + "/" + segs[1] }
func recordChan(segs []string) string { return chanPrefix + segs[0] + "/" + segs[1] }

func (r *Redis) Read(ctx context.Context, path string) (Value, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 {
		return r.readCollection(ctx, segs[0])
	}
	doc, err := r.readRecord(ctx, recordKey(segs))
	if err != nil {
		return nil, err
	}
	return navigate(doc, segs[2:]), nil
}

// readCollection assembles "collection" as a map of its record ids. Used
// only for inbox-style scans; the hot paths all address records directly.
func (r *Redis) readCollection(ctx context.Context, collection string) (Value, error) {
	out := make(map[string]any)
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, recKeyPrefix+collection+"/*", 256).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			doc, err := r.readRecord(ctx, key)
			if err != nil {
				return nil, err
			}
			if doc != nil {
				out[key[len(recKeyPrefix+collection+"/"):]] = doc
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (r *Redis) readRecord(ctx context.Context, key string) (Value, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc Value
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *Redis) Write(ctx context.Context, path string, value Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) < 2 {
		return ErrPathInvalid
	}
	if len(segs) == 2 {
		key := recordKey(segs)
		if value == nil {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return err
			}
		} else {
			data, err := json.Marshal(value)
			if err != nil {
				return err
			}
			if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
				return err
			}
		}
		return r.publish(ctx, segs)
	}
	err = r.mutateRecord(ctx, recordKey(segs), func(doc Value) (Value, error) {
		return setIn(doc, segs[2:], value), nil
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, segs)
}

func (r *Redis) Update(ctx context.Context, path string, fields map[string]Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) < 2 {
		return ErrPathInvalid
	}
	err = r.mutateRecord(ctx, recordKey(segs), func(doc Value) (Value, error) {
		for k, v := range fields {
			doc = setIn(doc, append(append([]string{}, segs[2:]...), k), v)
		}
		return doc, nil
	})
	if err != nil {
		return err
	}
	return r.publish(ctx, segs)
}

func (r *Redis) Remove(ctx context.Context, path string) error {
	return r.Write(ctx, path, nil)
}

func (r *Redis) Observe(ctx context.Context, path string, kind EventKind) (*Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	var ps *redis.PubSub
	if len(segs) == 1 {
		ps = r.client.PSubscribe(ctx, chanPrefix+segs[0]+"/*")
	} else {
		ps = r.client.Subscribe(ctx, recordChan(segs))
	}
	done := make(chan struct{})
	sub := &Subscription{
		events: make(chan Event),
		cancel: func() {
			close(done)
			_ = ps.Close()
		},
	}
	go r.observeLoop(sub, ps, joinPath(segs), kind, done)
	return sub, nil
}

func (r *Redis) observeLoop(sub *Subscription, ps *redis.PubSub, path string, kind EventKind, done chan struct{}) {
	defer close(sub.events)
	seen := make(map[string]bool)

	emit := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		snapshot, err := r.Read(ctx, path)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("observe read failed")
			return true
		}
		switch kind {
		case ValueChanged:
			select {
			case sub.events <- Event{Kind: ValueChanged, Path: path, Value: snapshot}:
			case <-done:
				return false
			}
		case ChildAdded:
			node, _ := snapshot.(map[string]any)
			for key := range seen {
				if _, ok := node[key]; !ok {
					delete(seen, key)
				}
			}
			fresh := make([]string, 0, len(node))
			for key := range node {
				if !seen[key] {
					fresh = append(fresh, key)
				}
			}
			// key order keeps attach-time replay identical across observers
			sort.Strings(fresh)
			for _, key := range fresh {
				seen[key] = true
				select {
				case sub.events <- Event{Kind: ChildAdded, Path: path, Key: key, Value: node[key]}:
				case <-done:
					return false
				}
			}
		}
		return true
	}

	if !emit() {
		return
	}
	ch := ps.Channel()
	for {
		select {
		case <-done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if !emit() {
				return
			}
		}
	}
}

func (r *Redis) Transaction(ctx context.Context, path string, fn TxFunc) (Value, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) < 2 {
		return nil, ErrPathInvalid
	}
	var committed Value
	err = r.mutateRecord(ctx, recordKey(segs), func(doc Value) (Value, error) {
		next, err := fn(navigate(doc, segs[2:]))
		if err != nil {
			return nil, err
		}
		committed = next
		return setIn(doc, segs[2:], next), nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.publish(ctx, segs); err != nil {
		return nil, err
	}
	return committed, nil
}

// mutateRecord runs an optimistic WATCH/MULTI read-modify-write on a single
// record document, retried on conflict.
func (r *Redis) mutateRecord(ctx context.Context, key string, mutate func(doc Value) (Value, error)) error {
	txf := func(tx *redis.Tx) error {
		var doc Value
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return err
			}
		}
		next, err := mutate(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 32; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrTxContention
}

func (r *Redis) publish(ctx context.Context, segs []string) error {
	return r.client.Publish(ctx, recordChan(segs), joinPath(segs)).Err()
}

func (r *Redis) RegisterOnDisconnect(ctx context.Context, path string, value Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segs) < 2 {
		return ErrPathInvalid
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, disconnectKey+r.connID, joinPath(segs), data).Err()
}

func (r *Redis) CancelOnDisconnect(ctx context.Context, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return r.client.HDel(ctx, disconnectKey+r.connID, joinPath(segs)).Err()
}

// Close fires this connection's disconnect writes, stops the background
// loops and closes the underlying client.
func (r *Redis) Close() error {
	close(r.done)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.applyDisconnectWrites(ctx, r.connID)
	r.client.Del(ctx, heartbeatKey+r.connID)
	return r.client.Close()
}

func (r *Redis) heartbeatLoop() {
	tick := time.NewTicker(heartbeatPeriod)
	defer tick.Stop()
	beat := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.Set(ctx, heartbeatKey+r.connID, "1", heartbeatTTL).Err(); err != nil {
			log.Warn().Err(err).Msg("store heartbeat failed")
		}
	}
	beat()
	for {
		select {
		case <-r.done:
			return
		case <-tick.C:
			beat()
		}
	}
}

// reapLoop applies the registered disconnect writes of connections whose
// heartbeat has expired. Every live connection runs a reaper; a lock key
// keeps them from applying the same connection's writes twice.
func (r *Redis) reapLoop() {
	tick := time.NewTicker(reapPeriod)
	defer tick.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-tick.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		r.reapOnce(ctx)
		cancel()
	}
}

func (r *Redis) reapOnce(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, disconnectKey+"*", 64).Result()
		if err != nil {
			log.Warn().Err(err).Msg("store reaper scan failed")
			return
		}
		for _, key := range keys {
			connID := key[len(disconnectKey):]
			if connID == r.connID {
				continue
			}
			alive, err := r.client.Exists(ctx, heartbeatKey+connID).Result()
			if err != nil || alive > 0 {
				continue
			}
			ok, err := r.client.SetNX(ctx, reapLockKey+connID, "1", time.Minute).Result()
			if err != nil || !ok {
				continue
			}
			r.applyDisconnectWrites(ctx, connID)
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func (r *Redis) applyDisconnectWrites(ctx context.Context, connID string) {
	entries, err := r.client.HGetAll(ctx, disconnectKey+connID).Result()
	if err != nil {
		log.Warn().Err(err).Str("conn", connID).Msg("reading disconnect writes failed")
		return
	}
	for path, raw := range entries {
		var value Value
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("malformed disconnect write skipped")
			continue
		}
		if err := r.Write(ctx, path, value); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("disconnect write failed")
		}
	}
	r.client.Del(ctx, disconnectKey+connID)
}

// navigate walks field segments inside a record document.
func navigate(doc Value, segs []string) Value {
	cur := doc
	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// setIn returns doc with the field at segs replaced by value. A nil value
// deletes the field; branches left empty collapse to nil.
func setIn(doc Value, segs []string, value Value) Value {
	if len(segs) == 0 {
		return value
	}
	node, ok := doc.(map[string]any)
	if !ok {
		node = make(map[string]any)
	}
	child := setIn(node[segs[0]], segs[1:], value)
	if child == nil {
		delete(node, segs[0])
		if len(node) == 0 {
			return nil
		}
	} else {
		node[segs[0]] = child
	}
	return node
}
