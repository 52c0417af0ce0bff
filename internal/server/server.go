// Package server exposes the agent on the message bus: JSON-RPC 2.0 over a
// unix socket and over a websocket, plus the asset proxy over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/hashicorp/go-multierror"

	"github.com/timepulse/timepulse/pkg/agentcli"
	"github.com/timepulse/timepulse/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Config holds the listener settings.
type Config struct {
	// SocketPath is the unix socket of the bus. Empty disables it.
	SocketPath string
	// HTTPAddr is the host:port of the HTTP listener. Empty disables it.
	HTTPAddr string
	// Secret guards /jsonrpc and /jsonrpc/ws. Empty disables both.
	Secret string
	// OriginPatterns are the websocket origins accepted besides the
	// listener's own host.
	OriginPatterns []string
	Version        string
}

// Server serves one Dispatcher over every configured transport.
type Server struct {
	cfg      Config
	log      logger.Logger
	registry *Registry
	methods  handler.Map
	assets   http.Handler

	mu     sync.Mutex
	unix   net.Listener
	tcp    net.Listener
	http   *http.Server
	bridge *jhttp.Bridge
	conns  sync.WaitGroup
}

// New creates a server. assets, when non-nil, is served at "/".
func New(cfg Config, reg *Registry, d Dispatcher, assets http.Handler, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Server{
		cfg:      cfg,
		log:      logger.WithPrefix(l, "bus"),
		registry: reg,
		methods:  Methods(d, cfg.Version),
		assets:   assets,
	}
}

// Start binds the listeners and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.Serve(ctx)
}

// Listen binds the configured listeners without serving them.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.SocketPath != "" {
		l, err := listenUnix(s.cfg.SocketPath)
		if err != nil {
			return err
		}
		s.unix = l
	}
	if s.cfg.HTTPAddr != "" {
		l, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			if s.unix != nil {
				s.unix.Close()
			}
			return fmt.Errorf("listen %s: %w", s.cfg.HTTPAddr, err)
		}
		s.tcp = l
	}
	return nil
}

// Addr returns the bound HTTP address, or "" when HTTP is disabled.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr().String()
}

// Serve runs the bound listeners until they are closed.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	unix, tcp := s.unix, s.tcp
	if tcp != nil {
		s.http = &http.Server{Handler: s.Handler()}
	}
	hs := s.http
	s.mu.Unlock()

	errc := make(chan error, 2)
	running := 0
	if tcp != nil {
		running++
		go func() {
			err := hs.Serve(tcp)
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errc <- err
		}()
	}
	if unix != nil {
		running++
		go func() { errc <- s.acceptLoop(ctx, unix) }()
	}

	var result *multierror.Error
	for i := 0; i < running; i++ {
		if err := <-errc; err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept: %v", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveChannel(channel.Line(conn, conn))
		}()
	}
}

// serveChannel runs one jrpc2 server over ch until the peer disconnects.
// Requests from one connection are handled in arrival order.
func (s *Server) serveChannel(ch channel.Channel) {
	srv := jrpc2.NewServer(s.methods, &jrpc2.ServerOptions{
		AllowPush:   true,
		Concurrency: 1,
	})
	s.registry.Register(srv)
	srv.Start(ch)
	if err := srv.Wait(); err != nil && !isDisconnect(err) {
		s.log.Debug("connection closed: %v", err)
	}
	s.registry.Unregister(srv)
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || channel.IsErrClosing(err) ||
		cws.CloseStatus(err) == cws.StatusNormalClosure
}

// Handler returns the HTTP surface: the asset proxy at "/" and, with a
// secret configured, the JSON-RPC bridge and websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.cfg.Secret != "" {
		s.mu.Lock()
		if s.bridge == nil {
			b := jhttp.NewBridge(s.methods, nil)
			s.bridge = &b
		}
		bridge := s.bridge
		s.mu.Unlock()
		mux.Handle("/jsonrpc", requireToken(s.cfg.Secret, bridge))
		mux.Handle("/jsonrpc/ws", requireToken(s.cfg.Secret, http.HandlerFunc(s.serveWS)))
	}
	if s.assets != nil {
		mux.Handle("/", s.assets)
	}
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, &cws.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.log.Warning("websocket accept: %v", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	s.serveChannel(agentcli.NewWSChannel(r.Context(), conn))
}

// Shutdown closes the listeners, stops every connection and removes the
// socket file.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	var result *multierror.Error
	if s.unix != nil {
		if err := s.unix.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		s.unix = nil
		if err := cleanupSocket(s.cfg.SocketPath); err != nil {
			result = multierror.Append(result, err)
		}
	}
	hs := s.http
	s.http = nil
	tcp := s.tcp
	s.tcp = nil
	bridge := s.bridge
	s.bridge = nil
	s.mu.Unlock()

	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	} else if tcp != nil {
		tcp.Close()
	}
	s.registry.StopAll()
	if bridge != nil {
		bridge.Close()
	}
	s.conns.Wait()
	return result.ErrorOrNil()
}
