// Package recovery implements the cooldown-directory scan that re-validates
// previously exhausted credentials and reinstates the ones whose quota has
// reset, without ever burst-calling the upstream token-metadata endpoint.
package recovery

import (
	"os"
	"path/filepath"
	"strings"

	"copilot-gateway/internal/oauth"
	"copilot-gateway/internal/pool"
)

const tokenFileExt = ".copilot_token"

// Verifier is the subset of *oauth.Controller the scanner depends on.
type Verifier interface {
	VerifySpecificToken(token string) bool
	VerifyTokenQuota(token string) (oauth.QuotaInfo, error)
}

// Scanner re-validates parked credentials from a cooldown directory.
type Scanner struct {
	verifier Verifier
	pool     *pool.Pool
	backoff  *backoffTracker
	limiter  *verificationLimiter
}

// NewScanner builds a Scanner. verificationsPerMinute caps how many
// VerifySpecificToken/VerifyTokenQuota calls the scanner may issue per
// minute across all scans; 0 disables the cap.
func NewScanner(v Verifier, p *pool.Pool, verificationsPerMinute int) *Scanner {
	return &Scanner{
		verifier: v,
		pool:     p,
		backoff:  newBackoffTracker(),
		limiter:  newVerificationLimiter(verificationsPerMinute),
	}
}

// CheckExhaustedTokens scans dir for parked credential files and reinstates
// the ones that have regained quota. If dir does not exist, the empty
// sequence is returned, not an error. Errors processing one file never
// abort the scan.
func (s *Scanner) CheckExhaustedTokens(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var restored []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tokenFileExt) {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		token := strings.TrimSpace(string(raw))
		if !pool.IsValidTokenFormat(token) {
			continue
		}

		if s.backoff.onCooldown(token) {
			continue
		}
		if !s.limiter.Allow() {
			continue
		}

		if !s.verifier.VerifySpecificToken(token) {
			s.backoff.onFailure(token)
			continue
		}

		if !s.limiter.Allow() {
			continue
		}
		quota, err := s.verifier.VerifyTokenQuota(token)
		if err != nil || quota.Chat <= 0 {
			s.backoff.onFailure(token)
			continue
		}

		if err := s.pool.Add(token, quota.Chat, quota.Chat); err != nil {
			continue
		}
		s.backoff.clear(token)
		restored = append(restored, token)
	}

	return restored
}
