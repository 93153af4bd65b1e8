// Package visualiser streams classified frames to remote viewers over gRPC.
//
// The service is declared by hand (ServiceName, RegisterPoseStreamServer)
// and carries google.protobuf.Struct messages, so viewers need no generated
// code beyond the well-known types.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

// Config holds configuration for the publisher's gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50051")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// QueueSize bounds frames waiting to be broadcast.
	QueueSize int

	// ClientBuffer bounds frames waiting for one slow client.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		QueueSize:    100,
		ClientBuffer: 10,
	}
}

// Publisher is a session sink that fans frames out to Watch clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logf     func(format string, v ...interface{})

	frameChan chan Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type clientStream struct {
	id      string
	request WatchRequest
	frameCh chan Frame
}

// NewPublisher creates a Publisher. Zero fields in cfg take DefaultConfig
// values.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		logf:      monitoring.Component("visualiser"),
		frameChan: make(chan Frame, cfg.QueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterPoseStreamServer(p.server, p)

	p.health = health.NewServer()
	p.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(p.server, p.health)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			p.logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends all streams and stops the server.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.stopOnce.Do(func() {
		p.running.Store(false)
		if p.health != nil {
			p.health.Shutdown()
		}
		close(p.stopCh)
		p.server.GracefulStop()
		p.wg.Wait()
		p.logf("gRPC server stopped")
	})
}

// Close implements io.Closer for sink shutdown.
func (p *Publisher) Close() error {
	p.Stop()
	return nil
}

// Name implements session.Named.
func (p *Publisher) Name() string { return "visualiser" }

// Consume implements session.Sink. Frames are dropped when the broadcast
// queue is full.
func (p *Publisher) Consume(ev session.Event) error {
	if !p.running.Load() {
		return nil
	}
	p.Publish(FrameFromEvent(ev))
	return nil
}

// Publish queues f for broadcast.
func (p *Publisher) Publish(f Frame) {
	select {
	case p.frameChan <- f:
		p.frameCount.Add(1)
	default:
		dropped := p.droppedFrames.Add(1)
		p.logf("DROPPED frame %d (total dropped: %d), channel full", f.Seq, dropped)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				if !client.request.accepts(frame) {
					continue
				}
				select {
				case client.frameCh <- frame:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(req WatchRequest) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "max clients (%d) reached", p.config.MaxClients)
	}

	id := fmt.Sprintf("%d", p.nextID.Add(1))
	if req.Client != "" {
		id = req.Client + "-" + id
	}
	client := &clientStream{
		id:      id,
		request: req,
		frameCh: make(chan Frame, p.config.ClientBuffer),
	}
	p.clients[id] = client
	n := p.clientCount.Add(1)
	p.logf("Client connected: %s (total: %d)", id, n)
	return client, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		p.logf("Client disconnected: %s (remaining: %d)", id, n)
	}
}

// Watch implements PoseStreamServer.
func (p *Publisher) Watch(msg *structpb.Struct, stream grpc.ServerStream) error {
	req := watchRequestFromStruct(msg)
	client, err := p.addClient(req)
	if err != nil {
		return err
	}
	defer p.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case frame := <-client.frameCh:
			out, err := frame.ToStruct()
			if err != nil {
				return status.Errorf(codes.Internal, "encode frame %d: %v", frame.Seq, err)
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	ClientCount   int32
	Running       bool
}
