package mockcluster

import "sync"

// errorStack is one FIFO list of injected error codes, optionally scoped to
// a single ApiKey. A wildcard scope (apiKeyAny) applies to every ApiKey.
// Mirrors rd_kafka_mock_error_stack_s.
type errorStack struct {
	apiKey int16 // apiKeyAny if this stack applies to any request
	errs   []int16
}

const apiKeyAny = int16(-1)

// errorStackStore is the cluster's sole cross-goroutine-mutable state: a
// FIFO of errorStacks guarded by its own mutex, deliberately not folded
// into the reactor's control queue so that injecting a fault never waits
// on a busy cluster goroutine.
type errorStackStore struct {
	mu     sync.Mutex
	stacks []*errorStack
}

// push appends a new stack of errors for apiKey (or apiKeyAny for a
// wildcard stack). Safe to call from any goroutine.
func (s *errorStackStore) push(apiKey int16, errs []int16) {
	if len(errs) == 0 {
		return
	}
	cp := make([]int16, len(errs))
	copy(cp, errs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks = append(s.stacks, &errorStack{apiKey: apiKey, errs: cp})
}

// next pops and returns the head error of the first stack whose scope
// matches apiKey or is wildcard, in insertion order. Returns (kerrs.None,
// false) if no stack matches or all matching stacks are empty.
func (s *errorStackStore) next(apiKey int16) (int16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, st := range s.stacks {
		if st.apiKey != apiKeyAny && st.apiKey != apiKey {
			continue
		}
		if len(st.errs) == 0 {
			continue
		}
		code := st.errs[0]
		st.errs = st.errs[1:]
		if len(st.errs) == 0 {
			s.stacks = append(s.stacks[:i], s.stacks[i+1:]...)
		}
		return code, true
	}
	return 0, false
}
