// Package dedup remembers object IDs this client just wrote so that the
// remote's echo of the same change can be ignored.
package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/logger"
)

const (
	defaultSize = 1024
	defaultTTL  = 30 * time.Second
)

type operation struct {
	Kind       string
	RecordedAt time.Time
}

// Ledger is safe for concurrent use. Entries expire after the configured TTL
// and the oldest entries are evicted once the ledger is full.
type Ledger struct {
	lru *expirable.LRU[string, operation]
	ttl time.Duration
}

func NewLedger(cfg config.DedupConfig) *Ledger {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Ledger{
		lru: expirable.NewLRU[string, operation](size, nil, ttl),
		ttl: ttl,
	}
}

// RecordLocalOperation marks id as written by this client just now.
func (l *Ledger) RecordLocalOperation(id, kind string) {
	if id == "" {
		return
	}
	l.lru.Add(id, operation{Kind: kind, RecordedAt: time.Now()})
	logger.Log.Debug("Recorded local catalog operation", zap.String("id", id), zap.String("kind", kind))
}

// WasRecentlyModifiedLocally reports whether id was recorded within the TTL.
func (l *Ledger) WasRecentlyModifiedLocally(id string) bool {
	_, ok := l.lru.Get(id)
	return ok
}

func (l *Ledger) Remove(id string) {
	l.lru.Remove(id)
}

func (l *Ledger) Purge() {
	l.lru.Purge()
}

func (l *Ledger) Len() int {
	return l.lru.Len()
}

func (l *Ledger) TTL() time.Duration {
	return l.ttl
}
