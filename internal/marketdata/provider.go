// Package marketdata serves point-in-time market snapshots to the strategy
// engines. Concurrent work units on the same symbol share one venue fetch
// through singleflight, and snapshots are cached for a short TTL so a tick
// fanning out over many bots does not hammer the depth endpoint.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
)

// depthLimit is how many levels each snapshot carries. The liquidity
// analyzer needs the top 20 asks plus headroom for the 2% window.
const depthLimit = 50

// Snapshot is one observation of a symbol's market.
type Snapshot struct {
	Symbol    string
	Mid       decimal.Decimal
	LastTrade decimal.Decimal
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Depth     *core.Depth
	TakenAt   time.Time
}

// Reference resolves a declared reference price against the snapshot.
func (s *Snapshot) Reference(ref core.ReferencePrice) (decimal.Decimal, error) {
	switch ref {
	case core.RefBestAsk:
		if s.BestAsk.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: no asks for %s", apperrors.ErrMarketData, s.Symbol)
		}
		return s.BestAsk, nil
	case core.RefMid:
		return s.Mid, nil
	default:
		if s.LastTrade.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: no last trade for %s", apperrors.ErrMarketData, s.Symbol)
		}
		return s.LastTrade, nil
	}
}

type cached struct {
	snap    *Snapshot
	expires time.Time
}

// Provider fetches and caches snapshots and symbol metadata.
type Provider struct {
	venue core.Venue
	ttl   time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	snaps   map[string]cached
	symbols map[string]*core.SymbolInfo
}

// NewProvider creates a provider with the given snapshot TTL.
func NewProvider(venue core.Venue, ttl time.Duration) *Provider {
	return &Provider{
		venue:   venue,
		ttl:     ttl,
		snaps:   make(map[string]cached),
		symbols: make(map[string]*core.SymbolInfo),
	}
}

// Snapshot returns a market snapshot no older than the TTL. Callers on the
// same symbol within one TTL window share a single venue round trip.
func (p *Provider) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	p.mu.RLock()
	entry, ok := p.snaps[symbol]
	p.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.snap, nil
	}

	v, err, _ := p.group.Do(symbol, func() (any, error) {
		snap, err := p.fetch(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.snaps[symbol] = cached{snap: snap, expires: time.Now().Add(p.ttl)}
		p.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (p *Provider) fetch(ctx context.Context, symbol string) (*Snapshot, error) {
	depth, err := p.venue.Depth(ctx, symbol, depthLimit)
	if err != nil {
		return nil, fmt.Errorf("depth %s: %w", symbol, err)
	}

	snap := &Snapshot{Symbol: symbol, Depth: depth, TakenAt: time.Now()}
	if bid, ok := depth.BestBid(); ok {
		snap.BestBid = bid.Price
	}
	if ask, ok := depth.BestAsk(); ok {
		snap.BestAsk = ask.Price
	}

	// The last trade is fetched even when the book is two-sided: several
	// strategies key on it directly.
	last, err := p.venue.Ticker(ctx, symbol)
	if err == nil {
		snap.LastTrade = last
	}

	switch {
	case !snap.BestBid.IsZero() && !snap.BestAsk.IsZero():
		snap.Mid = snap.BestBid.Add(snap.BestAsk).Div(decimal.NewFromInt(2))
	case !snap.LastTrade.IsZero():
		// One-sided or empty book: fall back to the last trade.
		snap.Mid = snap.LastTrade
	default:
		return nil, fmt.Errorf("%w: empty book and no trades for %s", apperrors.ErrMarketData, symbol)
	}

	return snap, nil
}

// SymbolInfo returns precision metadata, cached for the process lifetime.
// Precision never changes intraday; a restart picks up venue-side edits.
func (p *Provider) SymbolInfo(ctx context.Context, symbol string) (*core.SymbolInfo, error) {
	p.mu.RLock()
	info, ok := p.symbols[symbol]
	p.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := p.group.Do("syminfo:"+symbol, func() (any, error) {
		info, err := p.venue.SymbolInfo(ctx, symbol)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.symbols[symbol] = info
		p.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.SymbolInfo), nil
}

// Cached returns the snapshots currently in cache, expired or not. Used
// by the supervisor status surface; callers must not mutate them.
func (p *Provider) Cached() []*Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Snapshot, 0, len(p.snaps))
	for _, entry := range p.snaps {
		out = append(out, entry.snap)
	}
	return out
}

// Invalidate drops the cached snapshot for a symbol, forcing the next read
// to refetch. Used after order placement moves the book.
func (p *Provider) Invalidate(symbol string) {
	p.mu.Lock()
	delete(p.snaps, symbol)
	p.mu.Unlock()
}
