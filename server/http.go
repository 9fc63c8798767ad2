package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
)

// HTTP HTTP 服务器.
type HTTP struct {
	opts    *options
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTP 创建 HTTP 服务器.
//
//	srv := server.NewHTTP(api.New(orch).Routes(),
//	    server.WithName("api"),
//	    server.WithConfig(cfg.HTTP),
//	    server.WithLogger(log),
//	)
func NewHTTP(handler http.Handler, opts ...Option) *HTTP {
	return &HTTP{opts: newOptions(opts), handler: handler}
}

// Start 监听并服务，阻塞直到 ctx 取消或服务出错.
func (s *HTTP) Start(ctx context.Context) error {
	if s.handler == nil {
		return ErrNilHandler
	}
	if s.opts.cfg.Addr == "" {
		return ErrAddrEmpty
	}

	ln, err := net.Listen("tcp", s.opts.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.opts.cfg.ReadTimeout,
		WriteTimeout: s.opts.cfg.WriteTimeout,
		IdleTimeout:  s.opts.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.opts.log.Infof("[HTTP] 服务器启动 [addr:%s]", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop 优雅关闭.
func (s *HTTP) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.opts.log.Info("[HTTP] 服务器停止中")
	return srv.Shutdown(ctx)
}

// Name 服务器名称.
func (s *HTTP) Name() string {
	return s.opts.name
}

// Addr 实际监听地址，未启动时返回配置的地址.
func (s *HTTP) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.cfg.Addr
}

// Handler 返回 http.Handler.
func (s *HTTP) Handler() http.Handler {
	return s.handler
}
