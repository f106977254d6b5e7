package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"yave.dev/internal/client"
	"yave.dev/internal/protocol"
	"yave.dev/internal/transport/udp"
	"yave.dev/internal/world/material"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:25000", "server udp address")
		wsURL    = flag.String("ws", "", "websocket url, e.g. ws://localhost:25080/v1/ws (overrides -addr)")
		name     = flag.String("name", "bot", "player name")
		side     = flag.Float64("side", 48, "side length of the square walked, in blocks")
		step     = flag.Duration("step", 100*time.Millisecond, "interval between movement packets")
		logLevel = flag.String("log_level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("log_level: %v", err)
	}
	logger.SetLevel(lvl)
	log := logger.WithField("bot", *name)

	var conn botConn
	if strings.TrimSpace(*wsURL) != "" {
		conn, err = dialWS(*wsURL)
	} else {
		conn, err = dialUDP(*addr)
	}
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := client.NewView(material.Default().Solid)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return receive(ctx, conn, view, log) })
	g.Go(func() error { return walk(ctx, conn, *name, *side, *step) })
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("bot stopped")
	}
	log.WithFields(logrus.Fields{"chunks": len(view.Keys()), "players": len(view.Players())}).Info("bye")
}

// walk joins as name and walks the edge of a horizontal square around the origin, asking the
// server where it is at every corner.
func walk(ctx context.Context, conn botConn, name string, side float64, step time.Duration) error {
	if err := conn.Send(protocol.Connection{User: name}); err != nil {
		return err
	}
	path := squarePath(side, 1)
	every := len(path) / 4
	if every < 1 {
		every = 1
	}
	t := time.NewTicker(step)
	defer t.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		p := path[i%len(path)]
		if err := conn.Send(protocol.Movement{DeltaX: p[0], DeltaY: 0, DeltaZ: p[1]}); err != nil {
			return err
		}
		if i%every == 0 {
			if err := conn.Send(protocol.PositionRequest{Name: name}); err != nil {
				return err
			}
		}
	}
}

func receive(ctx context.Context, conn botConn, view *client.View, log logrus.FieldLogger) error {
	for {
		p, err := conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, udp.ErrMalformed) || errors.Is(err, protocol.ErrInvalidPacket) || errors.Is(err, protocol.ErrTruncated) {
				log.WithError(err).Warn("dropping packet")
				continue
			}
			return err
		}
		if err := view.Apply(p); err != nil {
			log.WithError(err).Warn("apply")
			continue
		}
		switch p := p.(type) {
		case protocol.Chunk:
			log.WithFields(logrus.Fields{"x": p.X, "y": p.Y, "groups": len(p.Groups)}).Debug("chunk")
		case protocol.UnloadChunk:
			log.WithFields(logrus.Fields{"x": p.X, "y": p.Y}).Debug("unload")
		case protocol.PlayerPosition:
			log.WithFields(logrus.Fields{"name": p.Name, "x": p.X, "y": p.Y, "z": p.Z}).Info("position")
		case protocol.OnlinePlayers:
			log.WithField("players", len(p.Players)).Info("online")
		case protocol.Connection:
			log.WithField("user", p.User).Info("joined")
		}
	}
}

// squarePath returns the points of a square walk of the given side, spaced by stride.
func squarePath(side, stride float64) [][2]float64 {
	if side <= 0 || stride <= 0 {
		return [][2]float64{{0, 0}}
	}
	h := side / 2
	corners := [][2]float64{{-h, -h}, {h, -h}, {h, h}, {-h, h}}
	var out [][2]float64
	for i, a := range corners {
		b := corners[(i+1)%len(corners)]
		for d := 0.0; d < side; d += stride {
			f := d / side
			out = append(out, [2]float64{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f})
		}
	}
	return out
}

type botConn interface {
	Send(protocol.Packet) error
	Recv() (protocol.Packet, error)
	Close() error
}

type udpConn struct {
	conn *net.UDPConn
	tx   *udp.Sender
	rx   *udp.Receiver
}

func dialUDP(addr string) (*udpConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	tx, rx := udp.Split(conn)
	return &udpConn{conn: conn, tx: tx, rx: rx}, nil
}

func (c *udpConn) Send(p protocol.Packet) error { return c.tx.Send(p) }
func (c *udpConn) Close() error                 { return c.conn.Close() }

func (c *udpConn) Recv() (protocol.Packet, error) {
	p, _, err := c.rx.ReadPacket()
	return p, err
}

type wsConn struct {
	conn *websocket.Conn
}

func dialWS(url string) (*wsConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxDatagramSize)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Send(p protocol.Packet) error {
	b, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsConn) Recv() (protocol.Packet, error) {
	for {
		typ, b, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return protocol.Decode(b)
	}
}

func (c *wsConn) Close() error { return c.conn.Close() }
