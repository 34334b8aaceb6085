// Package visualiser streams live pose estimates to remote viewers over
// gRPC.
package visualiser

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/tracker"
)

// Config holds configuration for the pose stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// ClientBuffer is the per-client queue length; updates beyond it are
	// dropped for that client
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		ClientBuffer: 32,
	}
}

const publishQueue = 100

// Publisher manages the gRPC server and pose fan-out.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	updates   chan *PoseUpdate
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	seq           atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ tracker.Sink = (*Publisher)(nil)

type clientStream struct {
	id            string
	keyframesOnly bool
	ch            chan *PoseUpdate
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		updates: make(chan *PoseUpdate, publishQueue),
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves the pose stream.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the pose stream on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterService(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[visualiser] pose stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends all streams and shuts the server down.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	monitoring.Logf("[visualiser] pose stream stopped (dropped=%d)", p.droppedFrames.Load())
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Publish queues u for every connected client. It never blocks; a full
// queue drops the update.
func (p *Publisher) Publish(u *PoseUpdate) {
	if !p.running.Load() || u == nil {
		return
	}
	u.Seq = p.seq.Add(1)
	select {
	case p.updates <- u:
	default:
		dropped := p.droppedFrames.Add(1)
		monitoring.Tracef("[visualiser] dropped update %d (total dropped: %d), queue full", u.Seq, dropped)
	}
}

// OnKeyframe publishes a keyframe update.
func (p *Publisher) OnKeyframe(_ context.Context, ev tracker.KeyframeEvent) error {
	p.Publish(updateFromKeyframe(ev))
	return nil
}

// OnFrame publishes a tracked frame.
func (p *Publisher) OnFrame(_ context.Context, fr tracker.FrameResult) error {
	p.Publish(updateFromFrame(fr))
	return nil
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case u := <-p.updates:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if c.keyframesOnly && u.Kind != KindKeyframe {
					continue
				}
				select {
				case c.ch <- u:
				default:
					// Slow client.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(keyframesOnly bool) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("too many clients (%d)", len(p.clients))
	}
	c := &clientStream{
		id:            fmt.Sprintf("client-%d", p.nextID.Add(1)),
		keyframesOnly: keyframesOnly,
		ch:            make(chan *PoseUpdate, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Logf("[visualiser] client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		monitoring.Logf("[visualiser] client disconnected: %s (remaining: %d)", id, n)
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.seq.Load(),
		Clients:   p.clientCount.Load(),
		Dropped:   p.droppedFrames.Load(),
		Running:   p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published uint64
	Clients   int32
	Dropped   uint64
	Running   bool
}
