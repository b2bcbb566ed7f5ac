package signing

import (
	"sort"
	"sync"
)

// State is the application-wide signing state.
type State int

const (
	None State = iota
	Partial
	Full
)

func (s State) String() string {
	switch s {
	case Full:
		return "FULL"
	case Partial:
		return "PARTIAL"
	default:
		return "NONE"
	}
}

// Set accumulates per-archive results for one application. Archives are
// added as they are activated, so the state may move from FULL to PARTIAL
// but never back.
type Set struct {
	mu      sync.RWMutex
	results map[string]*Result
	order   []string
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{results: make(map[string]*Result)}
}

// Add records the result for key, replacing any earlier one.
func (s *Set) Add(key string, r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[key]; !ok {
		s.order = append(s.order, key)
	}
	s.results[key] = r
}

// Get returns the result recorded for key.
func (s *Set) Get(key string) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[key]
	return r, ok
}

// Signed reports whether the archive at key is signed or trivially signed.
func (s *Set) Signed(key string) bool {
	r, ok := s.Get(key)
	return ok && (r.Trivial() || r.Signed())
}

// Len returns the number of recorded archives.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// State aggregates every non-trivial archive.
func (s *Set) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var relevant, signed int
	for _, r := range s.results {
		if r.Trivial() {
			continue
		}
		relevant++
		if r.Signed() {
			signed++
		}
	}
	switch {
	case relevant == 0 || signed == 0:
		return None
	case signed == relevant && len(s.commonLocked()) > 0:
		return Full
	default:
		return Partial
	}
}

// FullySigned is State() == Full.
func (s *Set) FullySigned() bool { return s.State() == Full }

// AllSigned reports whether every non-trivial archive has some signer,
// whether or not the signers agree.
func (s *Set) AllSigned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results {
		if !r.Trivial() && !r.Signed() {
			return false
		}
	}
	return true
}

// CommonSigners returns signers present on every non-trivial archive, ordered
// by fingerprint.
func (s *Set) CommonSigners() []*Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commonLocked()
}

func (s *Set) commonLocked() []*Signer {
	var common map[string]*Signer
	for _, key := range s.order {
		r := s.results[key]
		if r.Trivial() {
			continue
		}
		next := make(map[string]*Signer, len(r.Signers))
		for _, sg := range r.Signers {
			if common == nil {
				next[sg.Fingerprint] = sg
			} else if prev, ok := common[sg.Fingerprint]; ok {
				next[sg.Fingerprint] = prev
			}
		}
		common = next
		if len(common) == 0 {
			return nil
		}
	}
	out := make([]*Signer, 0, len(common))
	for _, sg := range common {
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// Publisher returns the preferred common signer: a trusted one if any,
// otherwise the first. It returns nil when the application is not fully signed.
func (s *Set) Publisher() *Signer {
	common := s.CommonSigners()
	for _, sg := range common {
		if sg.Trusted {
			return sg
		}
	}
	if len(common) > 0 {
		return common[0]
	}
	return nil
}

// RootTrusted reports whether some common signer chains to the trust pool.
func (s *Set) RootTrusted() bool {
	p := s.Publisher()
	return p != nil && p.Trusted
}
