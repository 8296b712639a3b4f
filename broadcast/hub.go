// Package broadcast fans registry snapshots out to observers: WebSocket subscribers through a Hub,
// and optionally a NATS subject.
package broadcast

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benjaminclauss/stationboard/metrics"
	"github.com/benjaminclauss/stationboard/registry"
	"golang.org/x/net/websocket"
)

const (
	DefaultBuffer = 16

	// maxDecodeErrors is how many consecutive undecodable frames a subscriber may send before it is dropped.
	maxDecodeErrors = 5
)

type HubOptions struct {
	// Buffer is the per-subscriber queue length. Zero selects DefaultBuffer.
	Buffer int
	// Heartbeat is the interval between heartbeat frames. Zero disables them.
	Heartbeat time.Duration
	Metrics   *metrics.Metrics
}

// Hub keeps the set of connected subscribers and the latest snapshot.
//
// Publish never blocks on a subscriber: every peer has a bounded queue and frames that do not fit are dropped.
// Snapshots older than the latest one seen are discarded, since mutations commit in order but may publish
// out of order.
type Hub struct {
	connectionID atomic.Uint64

	// mu guards peers, latest, latestFrame and closed.
	mu          sync.Mutex
	peers       map[uint64]*Peer
	latest      registry.Snapshot
	latestFrame []byte
	closed      bool

	buffer    int
	heartbeat time.Duration
	metrics   *metrics.Metrics
}

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Hub{
		peers:       make(map[uint64]*Peer),
		latestFrame: mustEncodeFrame(UpdateFrame, registry.Snapshot{}),
		buffer:      opts.Buffer,
		heartbeat:   opts.Heartbeat,
		metrics:     opts.Metrics,
	}
}

// Publish sends s to every subscriber. It satisfies registry.Publisher.
func (h *Hub) Publish(s registry.Snapshot) {
	frame, err := encodeFrame(UpdateFrame, s)
	if err != nil {
		slog.Error("error encoding snapshot", "version", s.Version, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if s.Version < h.latest.Version {
		slog.Debug("discarding stale snapshot", "version", s.Version, "latest", h.latest.Version)
		return
	}
	h.latest = s
	h.latestFrame = frame
	h.sendAllLocked(frame)
}

// Rebroadcast sends the latest snapshot to every subscriber again.
func (h *Hub) Rebroadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendAllLocked(h.latestFrame)
}

// Latest returns the most recent snapshot published to the hub.
func (h *Hub) Latest() registry.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*Peer, 0, len(h.peers))
	for id, p := range h.peers {
		peers = append(peers, p)
		delete(h.peers, id)
		h.metrics.SubscriberDisconnected()
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	slog.Info("broadcast hub closed", "subscribers", len(peers))
}

// Handler upgrades requests to WebSocket subscriptions. Any origin is accepted.
func (h *Hub) Handler() http.Handler {
	return websocket.Server{Handler: h.serve}
}

func (h *Hub) serve(conn *websocket.Conn) {
	peer, ok := h.join(conn)
	if !ok {
		closeOrLog(conn)
		return
	}
	defer h.leave(peer)

	remoteAddr := ""
	if r := conn.Request(); r != nil {
		remoteAddr = r.RemoteAddr
	}
	slog.Info("subscriber connected", "peer", peer.ID, "remote_addr", remoteAddr)

	decodeErrors := 0
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("read error", "peer", peer.ID, "err", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			decodeErrors++
			h.reject(peer, "invalid frame payload")
			if decodeErrors >= maxDecodeErrors {
				slog.Warn("dropping subscriber after repeated decode errors", "peer", peer.ID)
				return
			}
			continue
		}
		decodeErrors = 0

		switch f.Type {
		case RequestUpdateFrame:
			slog.Debug("update requested", "peer", peer.ID)
			h.Rebroadcast()
		case HeartbeatFrame:
		default:
			h.reject(peer, "unsupported frame type: "+f.Type)
		}
	}
}

func (h *Hub) join(conn *websocket.Conn) (*Peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}

	p := newPeer(h.connectionID.Add(1), conn, h.buffer)
	h.peers[p.ID] = p
	h.metrics.SubscriberConnected()
	// A new subscriber starts from the current state.
	p.enqueue(h.latestFrame)
	go p.writeLoop(h.heartbeat)
	return p, true
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p.ID]; ok {
		delete(h.peers, p.ID)
		h.metrics.SubscriberDisconnected()
	}
	h.mu.Unlock()

	p.close()
	slog.Info("subscriber disconnected", "peer", p.ID)
}

func (h *Hub) sendAllLocked(frame []byte) {
	for _, p := range h.peers {
		if !p.enqueue(frame) {
			slog.Warn("subscriber queue full, dropping frame", "peer", p.ID)
			h.metrics.FrameDropped()
		}
	}
}

func (h *Hub) reject(p *Peer, message string) {
	frame := mustEncodeFrame(ErrorFrame, errorPayload{Message: message})
	if !p.enqueue(frame) {
		h.metrics.FrameDropped()
	}
}

func closeOrLog(conn io.Closer) {
	if err := conn.Close(); err != nil {
		slog.Error("error closing connection", "err", err)
	}
}
