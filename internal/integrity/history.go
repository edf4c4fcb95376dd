package integrity

import (
	"sync"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// ActionLog is a bounded most-recent-N ring buffer of healing actions
type ActionLog struct {
	mu    sync.RWMutex
	buf   []contracts.HealingAction
	next  int
	full  bool
	total int
}

// NewActionLog creates a log retaining at most size actions
func NewActionLog(size int) *ActionLog {
	if size <= 0 {
		size = 1
	}
	return &ActionLog{buf: make([]contracts.HealingAction, size)}
}

// Append records an action, overwriting the oldest when full
func (l *ActionLog) Append(action contracts.HealingAction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = action
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Recent returns up to n actions, newest first. n <= 0 returns all retained.
func (l *ActionLog) Recent(n int) []contracts.HealingAction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]contracts.HealingAction, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len returns the number of retained actions
func (l *ActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// Total returns the number of actions ever appended
func (l *ActionLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
