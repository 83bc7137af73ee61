package icauth

// StateChange is delivered to subscribers on every transition of the
// session state machine. Notice carries the user-visible message for
// expired or failed sessions; silent transitions leave it empty.
type StateChange struct {
	State     State
	LoginType LoginType
	Principal Principal
	Notice    string
	Err       error
}

// Subscription is a registered listener for state changes.
type Subscription struct {
	id int
	ch chan StateChange
	m  *SessionManager
}

// C is the channel state changes arrive on.
func (s *Subscription) C() <-chan StateChange { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.m.subMu.Lock()
	defer s.m.subMu.Unlock()
	if _, ok := s.m.subs[s.id]; ok {
		delete(s.m.subs, s.id)
		close(s.ch)
	}
}

// Subscribe registers a listener. buffer controls the channel depth; a
// slow consumer with a full buffer misses intermediate changes rather
// than blocking the state machine.
func (m *SessionManager) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 8
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.nextSub++
	sub := &Subscription{id: m.nextSub, ch: make(chan StateChange, buffer), m: m}
	m.subs[sub.id] = sub.ch
	return sub
}

func (m *SessionManager) publish(change StateChange) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
