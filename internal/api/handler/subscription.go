package handler

import (
	"fmt"
	"sync"
)

// subscriptionState tracks a websocket subscription's lifecycle. Closed is
// terminal and reachable from any state.
type subscriptionState int

const (
	stateSubscribing subscriptionState = iota
	stateActive
	stateClosed
)

func (s subscriptionState) String() string {
	switch s {
	case stateSubscribing:
		return "subscribing"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// subscription is one client-requested consumer, keyed by the client's frame id.
type subscription struct {
	id    string
	queue string
	tag   string

	mu    sync.Mutex
	state subscriptionState
}

// activate moves Subscribing -> Active.
func (s *subscription) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateSubscribing {
		return fmt.Errorf("subscription %s is %s, not subscribing", s.id, s.state)
	}
	s.state = stateActive
	return nil
}

// close moves to Closed from any state.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
}

func (s *subscription) current() subscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// subscriptionSet holds a session's live subscriptions.
type subscriptionSet struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{subs: make(map[string]*subscription)}
}

// add registers a new subscription in the Subscribing state. Ids are
// client-chosen and must be unique within the session.
func (set *subscriptionSet) add(id, queue, tag string) (*subscription, error) {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, exists := set.subs[id]; exists {
		return nil, fmt.Errorf("subscription id %s already in use", id)
	}
	sub := &subscription{id: id, queue: queue, tag: tag, state: stateSubscribing}
	set.subs[id] = sub
	return sub, nil
}

func (set *subscriptionSet) get(id string) (*subscription, bool) {
	set.mu.Lock()
	defer set.mu.Unlock()
	sub, ok := set.subs[id]
	return sub, ok
}

func (set *subscriptionSet) remove(id string) {
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.subs, id)
}

func (set *subscriptionSet) all() []*subscription {
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]*subscription, 0, len(set.subs))
	for _, sub := range set.subs {
		out = append(out, sub)
	}
	return out
}
