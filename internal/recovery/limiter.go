package recovery

import (
	"sync"
	"time"
)

const windowDuration = time.Minute

// verificationLimiter is a sliding one-minute-window limiter shared across
// every VerifySpecificToken/VerifyTokenQuota call the scanner issues, so a
// cooldown directory with many parked tokens cannot burst-call the upstream
// token-metadata endpoint in a single scan. A cap of 0 disables limiting.
type verificationLimiter struct {
	mu         sync.Mutex
	cap        int
	timestamps []int64
}

func newVerificationLimiter(cap int) *verificationLimiter {
	return &verificationLimiter{cap: cap}
}

// Allow reports whether a call may proceed right now, and if so records it.
func (l *verificationLimiter) Allow() bool {
	if l.cap <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixMilli()
	cutoff := now - windowDuration.Milliseconds()

	pruned := l.timestamps[:0]
	for _, t := range l.timestamps {
		if t > cutoff {
			pruned = append(pruned, t)
		}
	}
	l.timestamps = pruned

	if len(l.timestamps) >= l.cap {
		return false
	}
	l.timestamps = append(l.timestamps, now)
	return true
}
