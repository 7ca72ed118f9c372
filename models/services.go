// bluetry/models/services.go
package models

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	mrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	expire time.Duration
	stop   chan struct{}
	once   sync.Once
}

// BotCheckStore persists challenges. LatestBotCheck returns ErrNotFound when
// the session has never been issued one.
type BotCheckStore interface {
	CreateBotCheck(ctx context.Context, bc *BotCheck) error
	LatestBotCheck(ctx context.Context, sessionID string) (*BotCheck, error)
	UpdateBotCheck(ctx context.Context, bc *BotCheck) error
	HasPassedBotCheck(ctx context.Context, sessionID string) (bool, error)
}

// BotCheckGate issues and validates arithmetic challenges for anonymous sessions.
type BotCheckGate struct {
	store       BotCheckStore
	ttl         time.Duration
	reissueAt   int
	maxFailures int
	minOperand  int
	maxOperand  int

	now  func() time.Time
	intn func(n int) int
}

// --- Rate Limiter Methods ---

// NewRateLimiter creates and starts a new rate limiter.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given key (usually an IP hash).
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup(prune time.Duration) {
	ticker := time.NewTicker(prune)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.prune(time.Now())
		}
	}
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	cutoff := now.Add(-rl.expire)
	for key, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, key)
			delete(rl.LastSeen, key)
		}
	}
}

// --- Bot-Check Gate ---

type BotCheckOutcome string

const (
	BotCheckPassed      BotCheckOutcome = "passed"
	BotCheckRetry       BotCheckOutcome = "retry"
	BotCheckReissued    BotCheckOutcome = "reissued"
	BotCheckLocked      BotCheckOutcome = "locked"
	BotCheckNoChallenge BotCheckOutcome = "no_challenge"
)

// Challenge is the client-facing view of a BotCheck; it never carries the solution.
type Challenge struct {
	ID        string    `json:"id"`
	Type      string    `json:"challengeType"`
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type BotCheckResult struct {
	Outcome      BotCheckOutcome `json:"outcome"`
	Passed       bool            `json:"passed"`
	AttemptsLeft int             `json:"attemptsLeft"`
	Challenge    *Challenge      `json:"challenge,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// NewBotCheckGate wires the gate to its store. ttl, reissueAt and maxFailures
// control expiry, automatic regeneration and session lockout.
func NewBotCheckGate(store BotCheckStore, ttl time.Duration, reissueAt, maxFailures, minOperand, maxOperand int) *BotCheckGate {
	return &BotCheckGate{
		store:       store,
		ttl:         ttl,
		reissueAt:   reissueAt,
		maxFailures: maxFailures,
		minOperand:  minOperand,
		maxOperand:  maxOperand,
		now:         func() time.Time { return time.Now().UTC() },
		intn:        mrand.Intn,
	}
}

// Issue creates a fresh challenge for the session. An explicit issue clears
// the session's failure streak, which is how a locked session recovers.
func (g *BotCheckGate) Issue(ctx context.Context, sessionID string) (*Challenge, error) {
	bc, err := g.newBotCheck(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return bc.challenge(), nil
}

// Validate checks an answer against the session's newest challenge.
func (g *BotCheckGate) Validate(ctx context.Context, sessionID, answer string) (*BotCheckResult, error) {
	bc, err := g.store.LatestBotCheck(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return &BotCheckResult{Outcome: BotCheckNoChallenge, Message: "No active challenge. Please request a new one."}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot check: %w", err)
	}

	if bc.Failures >= g.maxFailures {
		return &BotCheckResult{Outcome: BotCheckLocked, Message: "Too many incorrect attempts. Please refresh the challenge."}, nil
	}
	if bc.Passed || !g.now().Before(bc.ExpiresAt) {
		return &BotCheckResult{Outcome: BotCheckNoChallenge, Message: "Challenge expired. Please request a new one."}, nil
	}

	bc.Attempts++
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(answer)), []byte(bc.Solution)) == 1 {
		bc.Passed = true
		if err := g.store.UpdateBotCheck(ctx, bc); err != nil {
			return nil, fmt.Errorf("save bot check: %w", err)
		}
		return &BotCheckResult{Outcome: BotCheckPassed, Passed: true}, nil
	}

	bc.Failures++
	if err := g.store.UpdateBotCheck(ctx, bc); err != nil {
		return nil, fmt.Errorf("save bot check: %w", err)
	}
	left := g.maxFailures - bc.Failures
	if left <= 0 {
		return &BotCheckResult{Outcome: BotCheckLocked, Message: "Too many incorrect attempts. Please refresh the challenge."}, nil
	}
	if bc.Attempts >= g.reissueAt {
		next, err := g.newBotCheck(ctx, sessionID, bc.Failures)
		if err != nil {
			return nil, err
		}
		return &BotCheckResult{
			Outcome:      BotCheckReissued,
			AttemptsLeft: left,
			Challenge:    next.challenge(),
			Message:      "Incorrect answer. Here is a new question.",
		}, nil
	}
	return &BotCheckResult{Outcome: BotCheckRetry, AttemptsLeft: left, Message: "Incorrect answer. Please try again."}, nil
}

// Passed reports whether the session has ever solved a challenge.
func (g *BotCheckGate) Passed(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	return g.store.HasPassedBotCheck(ctx, sessionID)
}

func (g *BotCheckGate) newBotCheck(ctx context.Context, sessionID string, failures int) (*BotCheck, error) {
	span := g.maxOperand - g.minOperand + 1
	a, b := g.intn(span)+g.minOperand, g.intn(span)+g.minOperand
	now := g.now()
	bc := &BotCheck{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		ChallengeType: ChallengeSimpleMath,
		Question:      fmt.Sprintf("%d + %d = ?", a, b),
		Solution:      strconv.Itoa(a + b),
		Failures:      failures,
		CreatedAt:     now,
		ExpiresAt:     now.Add(g.ttl),
	}
	if err := g.store.CreateBotCheck(ctx, bc); err != nil {
		return nil, fmt.Errorf("create bot check: %w", err)
	}
	return bc, nil
}

func (bc *BotCheck) challenge() *Challenge {
	return &Challenge{ID: bc.ID, Type: bc.ChallengeType, Question: bc.Question, ExpiresAt: bc.ExpiresAt}
}
