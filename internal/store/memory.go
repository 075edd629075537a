package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store used in tests and for single-node embedded
// runs. It keeps the whole tree behind one mutex and fans events out to
// per-subscriber ordered queues, so every observer of a path sees that
// path's mutations in commit order.
type Memory struct {
	mu      sync.Mutex
	root    map[string]any
	revs    map[string]uint64
	subs    map[int64]*memSubscriber
	nextSub int64
	hooks   map[string]Value
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		root:  make(map[string]any),
		revs:  make(map[string]uint64),
		subs:  make(map[int64]*memSubscriber),
		hooks: make(map[string]Value),
	}
}

func (m *Memory) Read(ctx context.Context, path string) (Value, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return deepCopy(getNode(m.root, segs)), nil
}

func (m *Memory) Write(ctx context.Context, path string, value Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.applyLocked(segs, deepCopy(value))
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for k, v := range fields {
		setNode(m.root, append(append([]string{}, segs...), k), deepCopy(v))
		m.bumpRevsLocked(append(append([]string{}, segs...), k))
	}
	m.notifyLocked(segs)
	return nil
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *Memory) Observe(ctx context.Context, path string, kind EventKind) (*Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextSub++
	s := &memSubscriber{
		id:     m.nextSub,
		path:   joinPath(segs),
		segs:   segs,
		kind:   kind,
		seen:   make(map[string]bool),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.sub = &Subscription{
		events: make(chan Event),
		cancel: func() {
			close(s.done)
			m.mu.Lock()
			delete(m.subs, s.id)
			m.mu.Unlock()
		},
	}
	m.subs[s.id] = s
	go s.pump()

	// Replay current state on attach: a snapshot for value observers,
	// existing children for child observers.
	switch kind {
	case ValueChanged:
		s.push(Event{Kind: ValueChanged, Path: s.path, Value: deepCopy(getNode(m.root, segs))})
	case ChildAdded:
		m.emitChildrenLocked(s)
	}
	return s.sub, nil
}

func (m *Memory) Transaction(ctx context.Context, path string, fn TxFunc) (Value, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	key := joinPath(segs)

	for attempt := 0; attempt < 32; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		cur := deepCopy(getNode(m.root, segs))
		startRev := m.revs[key]
		m.mu.Unlock()

		next, err := fn(cur)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if m.revs[key] != startRev {
			m.mu.Unlock()
			continue // lost the race, retry against fresh state
		}
		m.applyLocked(segs, deepCopy(next))
		m.mu.Unlock()
		return next, nil
	}
	return nil, ErrTxContention
}

func (m *Memory) RegisterOnDisconnect(ctx context.Context, path string, value Value) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.hooks[joinPath(segs)] = deepCopy(value)
	return nil
}

func (m *Memory) CancelOnDisconnect(ctx context.Context, path string) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.hooks, joinPath(segs))
	return nil
}

// SimulateDisconnect fires every registered disconnect write as if the
// connection had dropped, leaving the store itself usable. Intended for
// tests and local emulation.
func (m *Memory) SimulateDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireHooksLocked()
}

// Close fires pending disconnect writes and cancels all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.fireHooksLocked()
	m.closed = true
	subs := make([]*memSubscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.sub.Cancel()
	}
	return nil
}

func (m *Memory) fireHooksLocked() {
	for path, value := range m.hooks {
		segs, err := splitPath(path)
		if err != nil {
			continue
		}
		m.applyLocked(segs, deepCopy(value))
	}
	m.hooks = make(map[string]Value)
}

// applyLocked writes value at segs (nil removes), bumps revisions and
// notifies subscribers. Caller holds m.mu.
func (m *Memory) applyLocked(segs []string, value Value) {
	if value == nil {
		removeNode(m.root, segs)
	} else {
		setNode(m.root, segs, value)
	}
	m.bumpRevsLocked(segs)
	m.notifyLocked(segs)
}

func (m *Memory) bumpRevsLocked(segs []string) {
	for i := 1; i <= len(segs); i++ {
		m.revs[joinPath(segs[:i])]++
	}
	prefix := joinPath(segs) + "/"
	for k := range m.revs {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			m.revs[k]++
		}
	}
}

// notifyLocked fans a mutation at segs out to affected subscribers, in
// subscriber-queue order so each observer sees per-path commit order.
func (m *Memory) notifyLocked(segs []string) {
	for _, s := range m.subs {
		related := isPrefix(s.segs, segs) || isPrefix(segs, s.segs)
		if !related {
			continue
		}
		switch s.kind {
		case ValueChanged:
			s.push(Event{Kind: ValueChanged, Path: s.path, Value: deepCopy(getNode(m.root, s.segs))})
		case ChildAdded:
			m.emitChildrenLocked(s)
		}
	}
}

// emitChildrenLocked diffs the observed node's direct children against what
// the subscriber has already seen and emits the new ones.
func (m *Memory) emitChildrenLocked(s *memSubscriber) {
	node, _ := getNode(m.root, s.segs).(map[string]any)
	for key := range s.seen {
		if _, ok := node[key]; !ok {
			delete(s.seen, key) // removed children may legitimately reappear
		}
	}
	fresh := make([]string, 0, len(node))
	for key := range node {
		if !s.seen[key] {
			fresh = append(fresh, key)
		}
	}
	// emit in key order so attach-time replay is identical across observers
	sort.Strings(fresh)
	for _, key := range fresh {
		s.seen[key] = true
		s.push(Event{Kind: ChildAdded, Path: s.path, Key: key, Value: deepCopy(node[key])})
	}
}

type memSubscriber struct {
	id   int64
	path string
	segs []string
	kind EventKind
	seen map[string]bool
	sub  *Subscription

	qmu    sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
}

func (s *memSubscriber) push(ev Event) {
	s.qmu.Lock()
	s.queue = append(s.queue, ev)
	s.qmu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memSubscriber) pump() {
	defer close(s.sub.events)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			select {
			case s.sub.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func getNode(root map[string]any, segs []string) Value {
	var cur Value = root
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

func setNode(root map[string]any, segs []string, value Value) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	node[segs[len(segs)-1]] = value
}

// removeNode deletes the subtree at segs and prunes branches left empty,
// so an emptied inbox reads back as absent rather than {}.
func removeNode(root map[string]any, segs []string) {
	nodes := make([]map[string]any, 0, len(segs))
	node := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		nodes = append(nodes, node)
		node = child
	}
	delete(node, segs[len(segs)-1])
	for i := len(nodes) - 1; i >= 0; i-- {
		if len(node) > 0 {
			return
		}
		delete(nodes[i], segs[i])
		node = nodes[i]
	}
}

func deepCopy(v Value) Value {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return v
	}
}
