package server

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedPeers = 1 << 16

// peerLimiter holds one token bucket per peer address. Submit runs on transport
// goroutines, so access is locked.
type peerLimiter struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	byAddr map[string]*rate.Limiter
}

func newPeerLimiter(perSecond float64, burst int) *peerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &peerLimiter{
		limit:  rate.Limit(perSecond),
		burst:  burst,
		byAddr: map[string]*rate.Limiter{},
	}
}

func (p *peerLimiter) allow(addr string) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	lim, ok := p.byAddr[addr]
	if !ok {
		if len(p.byAddr) >= maxTrackedPeers {
			p.byAddr = map[string]*rate.Limiter{}
		}
		lim = rate.NewLimiter(p.limit, p.burst)
		p.byAddr[addr] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

func (p *peerLimiter) forget(addr string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.byAddr, addr)
	p.mu.Unlock()
}
