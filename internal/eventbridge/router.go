package eventbridge

import (
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultBacklogSessions    = 256
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router fans session events out to subscribers with per-session backlog,
// deduplication and bounded channels.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	backlogOrder []string
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	maxSessions  int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active session subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with default limits.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		maxSessions:  defaultBacklogSessions,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides how many events are held per session
// before anyone subscribes.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithBacklogSessions caps how many sessions may hold a backlog.
// The session buffered longest ago is evicted first.
func RouterWithBacklogSessions(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events of one session. Buffered events for the
// session are replayed first.
func (r *Router) Subscribe(sessionID string) Subscription {
	session := normalizeSession(sessionID)
	sub := newSubscriber(r.channelSize, r.logger)
	r.mu.Lock()
	if r.subscribers[session] == nil {
		r.subscribers[session] = map[*subscriber]struct{}{}
	}
	r.subscribers[session][sub] = struct{}{}
	backlog := r.takeBacklogLocked(session)
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(session, sub)
		},
	}
}

// Subscribers reports how many live subscriptions a session has.
func (r *Router) Subscribers(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[normalizeSession(sessionID)])
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to the session's subscribers or buffers it when
// nobody is listening yet.
func (r *Router) Route(event Event) {
	session := normalizeSession(event.SessionID)
	if session == "" {
		return
	}
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(session)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(session, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (r *Router) snapshotSubscribers(session string) []*subscriber {
	live := r.subscribers[session]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(session string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[session]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, session)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(session string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue, ok := r.backlog[session]
	if !ok {
		if len(r.backlogOrder) >= r.maxSessions {
			evicted := r.backlogOrder[0]
			r.backlogOrder = r.backlogOrder[1:]
			delete(r.backlog, evicted)
			if r.logger != nil {
				r.logger.Printf("eventbridge: backlog evicted for session %s", evicted)
			}
		}
		r.backlogOrder = append(r.backlogOrder, session)
	}
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for %s (limit %d)", session, r.backlogLimit)
		}
	}
	r.backlog[session] = append(queue, event)
}

func (r *Router) takeBacklogLocked(session string) []Event {
	queue, ok := r.backlog[session]
	if !ok {
		return nil
	}
	delete(r.backlog, session)
	for i, name := range r.backlogOrder {
		if name == session {
			r.backlogOrder = append(r.backlogOrder[:i], r.backlogOrder[i+1:]...)
			break
		}
	}
	return queue
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

func normalizeSession(sessionID string) string {
	return strings.TrimSpace(sessionID)
}

type subscriber struct {
	ch     chan Event
	logger Logger
	closed bool
	mu     sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver holds the lock for the whole exchange so close cannot race a send.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// The reader drained the queue in the meantime.
		s.ch <- event
		return
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
	} else {
		s.ch <- oldest
		s.logDrop(event, "queue overflow:incoming")
	}
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s for session %s (%s)", event.Type, event.SessionID, reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := isCriticalEvent(oldest.Type)
	incomingCritical := isCriticalEvent(incoming.Type)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	oldestPreferred := isPreferredDrop(oldest.Type)
	incomingPreferred := isPreferredDrop(incoming.Type)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}

func isCriticalEvent(kind string) bool {
	return strings.ToLower(strings.TrimSpace(kind)) == TypeSessionEnd
}

// A newer assessment supersedes an older one, so those go first.
func isPreferredDrop(kind string) bool {
	return strings.ToLower(strings.TrimSpace(kind)) == TypeAssessment
}
