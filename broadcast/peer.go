package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// A Peer is one connected subscriber.
//
// All writes go through the peer's queue and are performed by its writer goroutine,
// so a slow socket only ever delays its own frames.
type Peer struct {
	ID uint64

	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
}

func newPeer(id uint64, conn *websocket.Conn, buffer int) *Peer {
	return &Peer{
		ID:    id,
		conn:  conn,
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// enqueue offers a frame without blocking. It reports false if the frame was dropped.
func (p *Peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.queue <- frame:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue to the socket and, when interval is positive, sends heartbeats.
func (p *Peer) writeLoop(interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	heartbeat := mustEncodeFrame(HeartbeatFrame, nil)

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.queue:
			if err := websocket.Message.Send(p.conn, string(frame)); err != nil {
				slog.Warn("error writing frame", "peer", p.ID, "err", err)
				p.close()
				return
			}
		case t := <-tick:
			slog.Debug("heartbeat", "time", t, "peer", p.ID)
			if err := websocket.Message.Send(p.conn, string(heartbeat)); err != nil {
				slog.Warn("error writing heartbeat", "peer", p.ID, "err", err)
				p.close()
				return
			}
		}
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if err := p.conn.Close(); err != nil {
			slog.Debug("error closing connection", "peer", p.ID, "err", err)
		}
	})
}
