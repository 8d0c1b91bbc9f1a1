package util

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

type MonitorServer struct {
	running *sync.Mutex
	router  *mux.Router
	srv     *http.Server
	srvMu   sync.RWMutex // protects srv field
	addr    string       // overrides details_port when set
}

func NewMonitorServer() *MonitorServer {
	var s MonitorServer
	s.running = &sync.Mutex{}
	s.router = mux.NewRouter()
	s.srv = &http.Server{}
	return &s
}

// WithAddr pins the listen address instead of reading details_port.
func (s *MonitorServer) WithAddr(addr string) *MonitorServer {
	s.addr = addr
	return s
}

func (s *MonitorServer) listenAddr() string {
	if s.addr != "" {
		return s.addr
	}
	return fmt.Sprintf(":%d", Config.GetInt("details_port"))
}

func (s *MonitorServer) Router() *mux.Router {
	return s.router
}

func (s *MonitorServer) Start() error {
	// held until ListenAndServe returns
	if !s.running.TryLock() {
		return fmt.Errorf("already running")
	}

	newSrv := &http.Server{
		Addr:              s.listenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.srv = newSrv
	s.srvMu.Unlock()

	go func() {
		if err := newSrv.ListenAndServe(); err != http.ErrServerClosed {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
		s.running.Unlock()
	}()
	return nil
}

func (s *MonitorServer) AddHandler(path string, handler func(http.ResponseWriter, *http.Request), methods ...string) {
	route := s.router.HandleFunc(path, handler)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

func (s *MonitorServer) AddRawHandler(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

func (s *MonitorServer) Shutdown(ctx context.Context) error {
	if s.running.TryLock() {
		s.running.Unlock()
		return nil
	}
	s.srvMu.RLock()
	currentSrv := s.srv
	s.srvMu.RUnlock()
	if currentSrv == nil {
		return nil
	}
	return currentSrv.Shutdown(ctx)
}

func (s *MonitorServer) Restart() {
	Logger.Debug().Msg("restarting monitor server")
	if err := s.Shutdown(context.TODO()); err != nil {
		Logger.Error().Msgf("Error shutting down monitor server: %v", err)
	}
	Logger.Debug().Msg("waiting for shutdown")
	s.running.Lock() // when server shuts down it will unlock, so wait for unlock
	Logger.Debug().Msg("http not running - good for startup")
	s.running.Unlock()
	if err := s.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
}
