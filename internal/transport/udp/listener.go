package udp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"yave.dev/internal/protocol"
	"yave.dev/internal/server"
)

// Sink receives decoded packets. *server.World implements it.
type Sink interface {
	Submit(ev server.Event) bool
	NoteMalformed()
}

// Listener owns the server socket: a dedicated goroutine blocks in Serve reading
// datagrams while the world loop sends through Sender.
type Listener struct {
	conn   *net.UDPConn
	sender *Sender
	recv   *Receiver
	sink   Sink
	log    logrus.FieldLogger
}

func Listen(addr string, sink Sink, log logrus.FieldLogger) (*Listener, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	return NewListener(conn, sink, log), nil
}

func NewListener(conn *net.UDPConn, sink Sink, log logrus.FieldLogger) *Listener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sender, recv := Split(conn)
	return &Listener{conn: conn, sender: sender, recv: recv, sink: sink, log: log}
}

func (l *Listener) Addr() *net.UDPAddr { return l.conn.LocalAddr().(*net.UDPAddr) }

func (l *Listener) Sender() *Sender { return l.sender }

func (l *Listener) Stats() Stats {
	s := l.sender.Stats()
	r := l.recv.Stats()
	s.ReceivedPackets, s.ReceivedBytes = r.ReceivedPackets, r.ReceivedBytes
	return s
}

// Serve reads until ctx is done, then closes the socket and returns ctx.Err().
// Malformed datagrams are counted and skipped.
func (l *Listener) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.conn.Close()
		case <-stop:
		}
	}()

	l.log.WithField("addr", l.Addr().String()).Info("udp listening")
	for {
		p, addr, err := l.recv.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrMalformed) {
				l.sink.NoteMalformed()
				l.log.WithField("peer", addr.String()).WithField("code", protocol.DecodeErrorCode(err)).Debug(err.Error())
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.log.WithError(err).Warn("udp read failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		peer := NewPeer(l.sender, addr)
		if !l.sink.Submit(server.PacketEvent(peer, p)) {
			l.log.WithField("peer", peer.Addr()).WithField("kind", p.Kind().String()).Debug("event dropped")
		}
	}
}

// Close closes the socket, unblocking Serve.
func (l *Listener) Close() error { return l.conn.Close() }
