package server

import (
	"sync"

	"yave.dev/internal/protocol"
)

type fakePeer struct {
	addr string
	fail error

	mu   sync.Mutex
	sent []protocol.Packet
}

func newFakePeer(addr string) *fakePeer { return &fakePeer{addr: addr} }

func (p *fakePeer) Addr() string { return p.addr }

func (p *fakePeer) Send(pkt protocol.Packet) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	p.sent = append(p.sent, pkt)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) packets() []protocol.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Packet(nil), p.sent...)
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}

func (p *fakePeer) ofKind(k protocol.Kind) []protocol.Packet {
	var out []protocol.Packet
	for _, pkt := range p.packets() {
		if pkt.Kind() == k {
			out = append(out, pkt)
		}
	}
	return out
}
