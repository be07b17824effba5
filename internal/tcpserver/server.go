package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/statwalk/internal/model"
)

const (
	// DefaultAddr is used when NewServer gets an empty address.
	DefaultAddr = "127.0.0.1:27500"

	// DefaultLineChannelSize is the default buffer size for the incoming line channel.
	DefaultLineChannelSize = 100_000

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	// serverStatus output on a busy node is a few hundred KB on one line.
	DefaultMaxLineSize = 16 * 1024 * 1024

	// DefaultMaxConnections bounds concurrently served connections.
	DefaultMaxConnections = 256

	maxAcceptBackoff = time.Second
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	MaxConnections  int
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero keeps idle connections open.
	IdleTimeout time.Duration
}

// Server listens for newline-delimited status documents over TCP. Every
// connection is its own source ("tcp:<remote addr>") so pretty-printed
// documents from concurrent senders are accumulated separately. When a
// connection ends the server emits a Closed envelope for its source.
type Server struct {
	addr     string
	conf     ServerConfig
	listener net.Listener
	lineChan chan model.IngestEnvelope
	slots    chan struct{}
	active   atomic.Int64
	rejected atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a new TCP server. Default addr is DefaultAddr.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	c := ServerConfig{
		LineChannelSize: DefaultLineChannelSize,
		MaxLineSize:     DefaultMaxLineSize,
		MaxConnections:  DefaultMaxConnections,
	}
	if len(conf) > 0 {
		if conf[0].LineChannelSize > 0 {
			c.LineChannelSize = conf[0].LineChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			c.MaxLineSize = conf[0].MaxLineSize
		}
		if conf[0].MaxConnections > 0 {
			c.MaxConnections = conf[0].MaxConnections
		}
		c.IdleTimeout = conf[0].IdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		conf:     c,
		lineChan: make(chan model.IngestEnvelope, c.LineChannelSize),
		slots:    make(chan struct{}, c.MaxConnections),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop backs off on accept errors the way net/http does, so a
// persistent failure such as fd exhaustion does not spin.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			log.Printf("tcpserver: accept error: %v; retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		select {
		case s.slots <- struct{}{}:
		default:
			s.rejected.Add(1)
			log.Printf("tcpserver: refusing %s, %d connections already open", conn.RemoteAddr(), s.conf.MaxConnections)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		<-s.slots
		s.wg.Done()
	}()
	defer conn.Close()

	source := "tcp:" + conn.RemoteAddr().String()
	defer s.send(model.IngestEnvelope{Source: source, Closed: true})

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(&idleReader{conn: conn, timeout: s.conf.IdleTimeout})
	scanner.Buffer(make([]byte, 64*1024), s.conf.MaxLineSize)

	for scanner.Scan() {
		if !s.send(model.IngestEnvelope{Source: source, Line: scanner.Text()}) {
			return
		}
	}

	err := scanner.Err()
	var netErr net.Error
	switch {
	case err == nil || s.ctx.Err() != nil:
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("tcpserver: dropped connection %s due to line exceeding max size (%d bytes)", conn.RemoteAddr(), s.conf.MaxLineSize)
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Printf("tcpserver: closed idle connection %s after %v", conn.RemoteAddr(), s.conf.IdleTimeout)
	default:
		log.Printf("tcpserver: read error from %s: %v", conn.RemoteAddr(), err)
	}
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}

func (s *Server) send(env model.IngestEnvelope) bool {
	select {
	case s.lineChan <- env:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Stop closes the listener and every open connection, then closes Lines.
// It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.wg.Wait()
		close(s.lineChan)
	})
	return err
}

// Lines returns the channel of received lines.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lineChan
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

// RejectedConnections returns how many connections were refused at the limit.
func (s *Server) RejectedConnections() int64 { return s.rejected.Load() }

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
