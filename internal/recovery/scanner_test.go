package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"copilot-gateway/internal/oauth"
	"copilot-gateway/internal/pool"
)

type fakeVerifier struct {
	verifyResult map[string]bool
	quota        map[string]oauth.QuotaInfo
	calls        int
	quotaCalls   int
}

func (f *fakeVerifier) VerifySpecificToken(token string) bool {
	f.calls++
	return f.verifyResult[token]
}

func (f *fakeVerifier) VerifyTokenQuota(token string) (oauth.QuotaInfo, error) {
	f.quotaCalls++
	return f.quota[token], nil
}

func writeTokenFile(t *testing.T, dir, name, token string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(token+"\n"), 0o644); err != nil {
		t.Fatalf("write token file: %v", err)
	}
}

func TestCheckExhaustedTokensMissingDirReturnsEmpty(t *testing.T) {
	s := NewScanner(&fakeVerifier{}, pool.New(), 0)
	got := s.CheckExhaustedTokens(filepath.Join(t.TempDir(), "does-not-exist"))
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestCheckExhaustedTokensRestoresVerifiedTokens(t *testing.T) {
	dir := t.TempDir()
	tok := "ghu_aaaaaaaaaaaaaaaaaaaa"
	writeTokenFile(t, dir, "a.copilot_token", tok)

	v := &fakeVerifier{
		verifyResult: map[string]bool{tok: true},
		quota:        map[string]oauth.QuotaInfo{tok: {Chat: 50}},
	}
	p := pool.New()
	s := NewScanner(v, p, 0)

	restored := s.CheckExhaustedTokens(dir)
	if len(restored) != 1 || restored[0] != tok {
		t.Fatalf("restored = %v, want [%s]", restored, tok)
	}
	if !p.Contains(tok) {
		t.Error("expected token to be in the pool")
	}
}

func TestCheckExhaustedTokensSkipsUnverifiedTokens(t *testing.T) {
	dir := t.TempDir()
	tok := "ghu_bbbbbbbbbbbbbbbbbbbb"
	writeTokenFile(t, dir, "b.copilot_token", tok)

	v := &fakeVerifier{verifyResult: map[string]bool{tok: false}}
	p := pool.New()
	s := NewScanner(v, p, 0)

	restored := s.CheckExhaustedTokens(dir)
	if len(restored) != 0 {
		t.Errorf("restored = %v, want empty", restored)
	}
	if p.Contains(tok) {
		t.Error("unverified token should not be in the pool")
	}
}

func TestCheckExhaustedTokensBackoffSkipsRepeatedFailures(t *testing.T) {
	dir := t.TempDir()
	tok := "ghu_cccccccccccccccccccc"
	writeTokenFile(t, dir, "c.copilot_token", tok)

	v := &fakeVerifier{verifyResult: map[string]bool{tok: false}}
	p := pool.New()
	s := NewScanner(v, p, 0)

	s.CheckExhaustedTokens(dir)
	callsAfterFirst := v.calls

	s.CheckExhaustedTokens(dir)
	if v.calls != callsAfterFirst {
		t.Errorf("second scan issued %d new calls, want 0 (backoff should skip)", v.calls-callsAfterFirst)
	}
}

func TestCheckExhaustedTokensIgnoresNonTokenFile(t *testing.T) {
	dir := t.TempDir()
	// Not a .copilot_token file: should be skipped entirely.
	writeTokenFile(t, dir, "notes.txt", "ghu_dddddddddddddddddddd")

	s := NewScanner(&fakeVerifier{}, pool.New(), 0)
	restored := s.CheckExhaustedTokens(dir)
	if len(restored) != 0 {
		t.Errorf("restored = %v, want empty for non-matching file", restored)
	}
}

func TestCheckExhaustedTokensVerificationLimiterBlocksBurst(t *testing.T) {
	dir := t.TempDir()
	tokens := []string{
		"ghu_eeeeeeeeeeeeeeeeeeee",
		"ghu_ffffffffffffffffffff",
		"ghu_gggggggggggggggggggg",
	}
	for i, tok := range tokens {
		writeTokenFile(t, dir, string(rune('a'+i))+".copilot_token", tok)
	}

	v := &fakeVerifier{verifyResult: map[string]bool{}}
	p := pool.New()
	s := NewScanner(v, p, 1) // only 1 verification call allowed per minute

	s.CheckExhaustedTokens(dir)
	if v.calls != 1 {
		t.Errorf("calls = %d, want 1 (limiter should cap the burst)", v.calls)
	}
}

// TestCheckExhaustedTokensLimiterAlsoGatesQuotaCall verifies the limiter
// covers VerifyTokenQuota too, not just VerifySpecificToken: every token
// here passes VerifySpecificToken, so without the second gate each would
// also issue a VerifyTokenQuota call, blowing well past the cap.
func TestCheckExhaustedTokensLimiterAlsoGatesQuotaCall(t *testing.T) {
	dir := t.TempDir()
	tokens := []string{
		"ghu_hhhhhhhhhhhhhhhhhhhh",
		"ghu_iiiiiiiiiiiiiiiiiiii",
		"ghu_jjjjjjjjjjjjjjjjjjjj",
	}
	quotas := map[string]oauth.QuotaInfo{}
	verifyResults := map[string]bool{}
	for _, tok := range tokens {
		verifyResults[tok] = true
		quotas[tok] = oauth.QuotaInfo{Chat: 10}
	}
	for i, tok := range tokens {
		writeTokenFile(t, dir, string(rune('a'+i))+".copilot_token", tok)
	}

	v := &fakeVerifier{verifyResult: verifyResults, quota: quotas}
	p := pool.New()
	s := NewScanner(v, p, 1) // only 1 verification call allowed per minute, total

	s.CheckExhaustedTokens(dir)
	totalUpstreamCalls := v.calls + v.quotaCalls
	if totalUpstreamCalls > 1 {
		t.Errorf("total upstream calls = %d (VerifySpecificToken=%d, VerifyTokenQuota=%d), want at most 1",
			totalUpstreamCalls, v.calls, v.quotaCalls)
	}
}
