package control

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
)

// Server serves the control service on the local IPC socket and, optionally,
// a TCP listener that carries both gRPC and HTTP/JSON.
type Server struct {
	svc      *Service
	gatherer prometheus.Gatherer
	tls      *tls.Config
}

// NewServer returns a Server for svc. gatherer backs GET /metrics on the TCP
// listener and may be nil. tlsCfg, when set, wraps the TCP listener.
func NewServer(svc *Service, gatherer prometheus.Gatherer, tlsCfg *tls.Config) *Server {
	return &Server{svc: svc, gatherer: gatherer, tls: tlsCfg}
}

// Serve blocks until ctx is cancelled or a listener fails. Either listener
// may be nil. The IPC listener skips token auth; the socket is local.
func (s *Server) Serve(ctx context.Context, ipcLn, tcpLn net.Listener) error {
	if ipcLn == nil && tcpLn == nil {
		<-ctx.Done()
		return nil
	}

	var (
		wg      sync.WaitGroup
		errc    = make(chan error, 4)
		servers []func()
	)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !isClosed(err) {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if ipcLn != nil {
		local := *s.svc
		local.opts.Token = ""
		gs := grpc.NewServer()
		Register(gs, &local)
		servers = append(servers, gs.Stop)
		run("ipc", func() error { return gs.Serve(ipcLn) })
		slog.Info("control socket listening", "path", ipcLn.Addr().String())
	}

	if tcpLn != nil {
		if s.tls != nil {
			tcpLn = tls.NewListener(tcpLn, s.tls)
		}
		gw, err := NewGateway(s.svc, s.gatherer)
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}

		m := cmux.New(tcpLn)
		grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
		httpL := m.Match(cmux.Any())

		gs := grpc.NewServer()
		Register(gs, s.svc)
		hs := &http.Server{Handler: gw, ReadHeaderTimeout: 10 * time.Second}

		servers = append(servers, gs.Stop, func() { _ = hs.Close() }, m.Close)
		run("grpc", func() error { return gs.Serve(grpcL) })
		run("http", func() error { return hs.Serve(httpL) })
		run("cmux", m.Serve)
		slog.Info("control listening", "addr", tcpLn.Addr().String(), "tls", s.tls != nil)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	for _, stop := range servers {
		stop()
	}
	if ipcLn != nil {
		_ = ipcLn.Close()
	}
	wg.Wait()
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, cmux.ErrListenerClosed) ||
		errors.Is(err, cmux.ErrServerClosed)
}
