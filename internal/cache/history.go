package cache

import (
	"time"

	"conti/internal/clock"
	"conti/internal/core"
)

// History caches finalized monthly accounts by household and month. Entries
// are copied in and out, so callers cannot alter cached history.
type History struct {
	lru *LRUCache[core.MonthlyAccount]
}

func NewHistory(maxSize int, ttl time.Duration, clk clock.Clock) *History {
	return &History{lru: NewLRUCacheWithClock[core.MonthlyAccount](maxSize, ttl, clk)}
}

func historyKey(householdID string, month core.MonthKey) string {
	return householdID + "/" + string(month)
}

func (h *History) Get(householdID string, month core.MonthKey) (core.MonthlyAccount, bool) {
	if h == nil {
		return core.MonthlyAccount{}, false
	}
	a, ok := h.lru.Get(historyKey(householdID, month))
	if !ok {
		return core.MonthlyAccount{}, false
	}
	return a.Clone(), true
}

// Put stores a; accounts that are still OPEN are ignored.
func (h *History) Put(a core.MonthlyAccount) {
	if h == nil || !a.Status.IsFinalized() {
		return
	}
	h.lru.Set(historyKey(a.HouseholdID, a.ID), a.Clone())
}

func (h *History) CleanExpired() int {
	if h == nil {
		return 0
	}
	return h.lru.CleanExpired()
}
