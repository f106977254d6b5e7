// Package ws carries protocol packets over WebSocket, one binary message per packet.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"yave.dev/internal/protocol"
	"yave.dev/internal/server"
)

var ErrClosed = errors.New("ws: peer closed")

// Sink receives decoded packets. *server.World implements it.
type Sink interface {
	Submit(ev server.Event) bool
	NoteMalformed()
}

type Server struct {
	sink Sink
	log  logrus.FieldLogger

	upgrader websocket.Upgrader
	queue    int
	nextID   atomic.Uint64
}

func NewServer(sink Sink, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		sink: sink,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		queue: 256,
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(protocol.MaxDatagramSize)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		peer := &Peer{
			addr: fmt.Sprintf("ws/%s/%d", r.RemoteAddr, s.nextID.Add(1)),
			out:  make(chan []byte, s.queue),
		}
		log := s.log.WithField("peer", peer.addr)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-peer.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			p, err := protocol.Decode(msg)
			if err != nil {
				s.sink.NoteMalformed()
				log.WithField("code", protocol.DecodeErrorCode(err)).Debug(err.Error())
				continue
			}
			if !s.sink.Submit(server.PacketEvent(peer, p)) {
				log.WithField("kind", p.Kind().String()).Debug("event dropped")
			}
		}

		// Cleanup.
		peer.closed.Store(true)
		s.sink.Submit(server.LeaveEvent(peer, "closed"))
	}
}

// Peer is one WebSocket connection. Send never blocks: when the outbound queue is
// full the oldest queued message is dropped.
type Peer struct {
	addr   string
	out    chan []byte
	closed atomic.Bool
}

func (p *Peer) Addr() string { return p.addr }

func (p *Peer) Send(pkt protocol.Packet) error {
	if p.closed.Load() {
		return ErrClosed
	}
	b, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}
	sendLatest(p.out, b)
	return nil
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
