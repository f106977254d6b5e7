// Package udp carries protocol packets over a single UDP socket, one packet per datagram.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"yave.dev/internal/protocol"
)

var (
	// ErrTooLarge is returned when an encoded packet does not fit in one datagram.
	ErrTooLarge = errors.New("udp: packet exceeds datagram size")
	// ErrMalformed wraps decode failures of received datagrams.
	ErrMalformed = errors.New("udp: malformed datagram")
)

// Sender is the sending half of a socket.
type Sender struct {
	conn *net.UDPConn

	packets  atomic.Uint64
	bytes    atomic.Uint64
	tooLarge atomic.Uint64
}

// Receiver is the receiving half of a socket. It is not safe for concurrent use.
type Receiver struct {
	conn *net.UDPConn
	buf  []byte

	packets atomic.Uint64
	bytes   atomic.Uint64
}

// Split returns independent send and receive halves over conn, so one goroutine can
// block in a read while another sends.
func Split(conn *net.UDPConn) (*Sender, *Receiver) {
	return &Sender{conn: conn}, &Receiver{conn: conn, buf: make([]byte, 64*1024)}
}

// SendTo encodes p and writes it to addr.
func (s *Sender) SendTo(p protocol.Packet, addr *net.UDPAddr) error {
	b, err := s.encode(p)
	if err != nil {
		return err
	}
	n, err := s.conn.WriteToUDP(b, addr)
	if err != nil {
		return err
	}
	s.count(n)
	return nil
}

// Send writes p on a connected socket.
func (s *Sender) Send(p protocol.Packet) error {
	b, err := s.encode(p)
	if err != nil {
		return err
	}
	n, err := s.conn.Write(b)
	if err != nil {
		return err
	}
	s.count(n)
	return nil
}

func (s *Sender) encode(p protocol.Packet) ([]byte, error) {
	b, err := protocol.Encode(p)
	if err != nil {
		return nil, err
	}
	if len(b) > protocol.MaxDatagramSize {
		s.tooLarge.Add(1)
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, p.Kind(), len(b))
	}
	return b, nil
}

func (s *Sender) count(n int) {
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
}

// ReadFrom blocks for the next datagram and returns its payload, which aliases buf.
func (r *Receiver) ReadFrom(buf []byte) ([]byte, *net.UDPAddr, error) {
	n, addr, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	r.packets.Add(1)
	r.bytes.Add(uint64(n))
	return buf[:n], addr, nil
}

// ReadPacket reads and decodes the next datagram. Decode failures wrap ErrMalformed
// and still report the sender.
func (r *Receiver) ReadPacket() (protocol.Packet, *net.UDPAddr, error) {
	b, addr, err := r.ReadFrom(r.buf)
	if err != nil {
		return nil, nil, err
	}
	p, err := protocol.Decode(b)
	if err != nil {
		return nil, addr, fmt.Errorf("%w from %s: %w", ErrMalformed, addr, err)
	}
	return p, addr, nil
}

type Stats struct {
	SentPackets     uint64
	SentBytes       uint64
	TooLarge        uint64
	ReceivedPackets uint64
	ReceivedBytes   uint64
}

func (s *Sender) Stats() Stats {
	return Stats{SentPackets: s.packets.Load(), SentBytes: s.bytes.Load(), TooLarge: s.tooLarge.Load()}
}

func (r *Receiver) Stats() Stats {
	return Stats{ReceivedPackets: r.packets.Load(), ReceivedBytes: r.bytes.Load()}
}

// Peer is a remote address reached through a shared Sender.
type Peer struct {
	sender *Sender
	addr   *net.UDPAddr
	key    string
}

func NewPeer(s *Sender, addr *net.UDPAddr) *Peer {
	return &Peer{sender: s, addr: addr, key: addr.String()}
}

func (p *Peer) Addr() string { return p.key }

func (p *Peer) UDPAddr() *net.UDPAddr { return p.addr }

func (p *Peer) Send(pkt protocol.Packet) error { return p.sender.SendTo(pkt, p.addr) }
