package runner

import (
	"sync"

	"github.com/testwire-labs/testwire/pkg/core"
)

// Observer receives live notifications while a run executes. All methods
// may be called from the engine's streaming goroutine and must not block.
type Observer interface {
	NodeAdded(node *core.TestNode)
	NodeRemoved(id string)
	StatusChanged(run *core.TestRun, nodeID string, status core.TestStatus)
	Output(run *core.TestRun, p []byte)
	CoverageAttached(run *core.TestRun)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) NodeAdded(*core.TestNode)                               {}
func (NopObserver) NodeRemoved(string)                                     {}
func (NopObserver) StatusChanged(*core.TestRun, string, core.TestStatus)   {}
func (NopObserver) Output(*core.TestRun, []byte)                           {}
func (NopObserver) CoverageAttached(*core.TestRun)                         {}

// ObserverSet fans notifications out to any number of registered
// observers. Safe for concurrent use.
type ObserverSet struct {
	mu        sync.RWMutex
	observers []Observer
}

// Register adds an observer to the set.
func (s *ObserverSet) Register(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *ObserverSet) each(fn func(Observer)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.observers {
		fn(o)
	}
}

func (s *ObserverSet) NodeAdded(node *core.TestNode) {
	s.each(func(o Observer) { o.NodeAdded(node) })
}

func (s *ObserverSet) NodeRemoved(id string) {
	s.each(func(o Observer) { o.NodeRemoved(id) })
}

func (s *ObserverSet) StatusChanged(run *core.TestRun, nodeID string, status core.TestStatus) {
	s.each(func(o Observer) { o.StatusChanged(run, nodeID, status) })
}

func (s *ObserverSet) Output(run *core.TestRun, p []byte) {
	s.each(func(o Observer) { o.Output(run, p) })
}

func (s *ObserverSet) CoverageAttached(run *core.TestRun) {
	s.each(func(o Observer) { o.CoverageAttached(run) })
}
