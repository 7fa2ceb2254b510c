package engine

import (
	"sync"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

type pendingKey struct {
	cmd uint32
	seq uint16
}

type replyResult struct {
	msg *protocol.Message
	err error
}

// pendingRequest waits for the reply to one sent packet.
type pendingRequest struct {
	key     pendingKey
	expires time.Time
	cancel  <-chan struct{}
	done    chan replyResult
}

// pendingStore holds the in-flight requests of one engine.
type pendingStore struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[pendingKey]*pendingRequest
}

func newPendingStore(ttl time.Duration) *pendingStore {
	return &pendingStore{ttl: ttl, now: time.Now, m: make(map[pendingKey]*pendingRequest)}
}

// add registers a request. cancel may be nil.
func (s *pendingStore) add(cmd uint32, seq uint16, cancel <-chan struct{}) (*pendingRequest, error) {
	k := pendingKey{cmd, seq}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; ok {
		return nil, ErrDuplicateRequest
	}
	pr := &pendingRequest{
		key:     k,
		expires: s.now().Add(s.ttl),
		cancel:  cancel,
		done:    make(chan replyResult, 1),
	}
	s.m[k] = pr
	return pr, nil
}

// complete hands msg to the request waiting for (cmd, seq). It reports
// whether such a request existed.
func (s *pendingStore) complete(cmd uint32, seq uint16, msg *protocol.Message) bool {
	s.mu.Lock()
	pr, ok := s.m[pendingKey{cmd, seq}]
	if ok {
		delete(s.m, pr.key)
	}
	s.mu.Unlock()
	if ok {
		pr.done <- replyResult{msg: msg}
	}
	return ok
}

func (s *pendingStore) remove(pr *pendingRequest) {
	s.mu.Lock()
	if s.m[pr.key] == pr {
		delete(s.m, pr.key)
	}
	s.mu.Unlock()
}

// sweep fails requests that expired or were cancelled and returns how many
// were dropped.
func (s *pendingStore) sweep() int {
	now := s.now()
	var dropped []*pendingRequest
	s.mu.Lock()
	for k, pr := range s.m {
		if now.After(pr.expires) || isClosed(pr.cancel) {
			delete(s.m, k)
			dropped = append(dropped, pr)
		}
	}
	s.mu.Unlock()
	for _, pr := range dropped {
		pr.done <- replyResult{err: ErrRequestExpired}
	}
	return len(dropped)
}

// failAll completes every pending request with err.
func (s *pendingStore) failAll(err error) {
	s.mu.Lock()
	all := s.m
	s.m = make(map[pendingKey]*pendingRequest)
	s.mu.Unlock()
	for _, pr := range all {
		pr.done <- replyResult{err: err}
	}
}

func (s *pendingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func isClosed(c <-chan struct{}) bool {
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}
