// internal/cache/session_cache.go
package cache

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
)

// ReconcileGuard uses dual bloom filters for ultra-fast reconcile checks.
// It lives for one session and is discarded on logout.
type ReconcileGuard struct {
	reconciledFilter *bloom.BloomFilter // Tracks identities already reconciled this session
	unassignedFilter *bloom.BloomFilter // Tracks identities known to have no owner assignment
	mu               sync.RWMutex
	hits             atomic.Int64
	misses           atomic.Int64
	falsePositives   atomic.Int64
}

// NewReconcileGuard creates a new dual bloom filter guard
func NewReconcileGuard(expectedReconciled, expectedUnassigned uint, fpRate float64) *ReconcileGuard {
	return &ReconcileGuard{
		reconciledFilter: bloom.NewWithEstimates(expectedReconciled, fpRate),
		unassignedFilter: bloom.NewWithEstimates(expectedUnassigned, fpRate),
	}
}

// generateKey creates a guard key from the external identity using FNV-1a hash
func (g *ReconcileGuard) generateKey(externalUserID, ownerID int64) string {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(externalUserID, 10) + ":" + strconv.FormatInt(ownerID, 10)))
	return fmt.Sprintf("%x", h.Sum64())
}

// CheckStatus performs an ultra-fast check of the identity's reconcile status
func (g *ReconcileGuard) CheckStatus(externalUserID, ownerID int64) (status GuardStatus) {
	key := g.generateKey(externalUserID, ownerID)

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Check if already reconciled
	if g.reconciledFilter.TestString(key) {
		// Might be reconciled (possible false positive)
		observer.IncCacheCheck("bloom_reconciled", "possible_hit")
		return StatusMaybeReconciled
	}

	// Definitely not reconciled, check if known unassigned
	if g.unassignedFilter.TestString(key) {
		observer.IncCacheCheck("bloom_unassigned", "possible_hit")
		return StatusMaybeUnassigned
	}

	// Not in either filter - unknown status
	g.misses.Add(1)
	observer.IncCacheCheck("bloom", "miss")
	return StatusUnknown
}

// MarkReconciled marks an identity as reconciled for this session
func (g *ReconcileGuard) MarkReconciled(externalUserID, ownerID int64) {
	key := g.generateKey(externalUserID, ownerID)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reconciledFilter.AddString(key)
	g.hits.Add(1)
}

// MarkUnassigned marks an identity as having no owner assignment
func (g *ReconcileGuard) MarkUnassigned(externalUserID, ownerID int64) {
	key := g.generateKey(externalUserID, ownerID)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.unassignedFilter.AddString(key)
}

// RecordFalsePositive tracks when a filter gave an incorrect positive
func (g *ReconcileGuard) RecordFalsePositive(filterType string) {
	g.falsePositives.Add(1)
	observer.IncCacheCheck("bloom_"+filterType, "false_positive")
}

// GetStats returns guard statistics
func (g *ReconcileGuard) GetStats() GuardStats {
	hits := g.hits.Load()
	misses := g.misses.Load()
	fps := g.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	fpRate := float64(0)
	if total > 0 {
		fpRate = float64(fps) / float64(total)
	}

	g.mu.RLock()
	reconciledSize := g.reconciledFilter.ApproximatedSize()
	unassignedSize := g.unassignedFilter.ApproximatedSize()
	g.mu.RUnlock()

	return GuardStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		ReconciledSize:    uint64(reconciledSize),
		UnassignedSize:    uint64(unassignedSize),
	}
}

// GuardStatus represents the guard check result
type GuardStatus int

const (
	StatusUnknown GuardStatus = iota
	StatusMaybeReconciled
	StatusMaybeUnassigned
)

type GuardStats struct {
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	FalsePositives    int64   `json:"false_positives"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	ReconciledSize    uint64  `json:"reconciled_size"`
	UnassignedSize    uint64  `json:"unassigned_size"`
}
