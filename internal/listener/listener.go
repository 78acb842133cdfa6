// Package listener boots TCP listeners that hand every accepted
// connection to the shadowtls handshake orchestrator, then relays the
// resulting stream to the inner handler's chosen remote. Modeled on
// caddyhttp/httpserver's Listen/Serve split and on listen.go's
// temporary-accept-error backoff.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shoes-proxy/shoes/internal/metrics"
	"github.com/shoes-proxy/shoes/internal/shoesconfig"
	"github.com/shoes-proxy/shoes/shadowtls"
)

// Listener binds one TCP address and runs every accepted connection
// through target's handshake.
type Listener struct {
	Address  string
	Target   *shadowtls.Target
	Resolver shadowtls.Resolver
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Listen binds the configured address.
func (l *Listener) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return nil, fmt.Errorf("listener: binding %s: %w", l.Address, err)
	}
	return ln, nil
}

// ListenQUIC is an intentionally unfinished scaffold: ShadowTLS v3 has
// no defined behavior over QUIC, so there is no handshake variant that
// could consume a QUIC-bidirectional Stream yet. The quic-go dependency
// is still exercised here (a real *quic.Config is built) so the
// scaffold reflects what a finished implementation would configure,
// rather than being a bare placeholder.
func (l *Listener) ListenQUIC(tlsConf *tls.Config) (*quic.Listener, error) {
	_ = &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
	_ = tlsConf
	return nil, fmt.Errorf("listener: QUIC listening is not implemented: %w", errors.ErrUnsupported)
}

// Serve accepts connections from ln until ctx is cancelled or ln is
// closed by some other means, running each connection's handshake and
// relay in its own goroutine.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				l.Logger.Warn("temporary accept error, retrying",
					zap.Error(err), zap.Duration("retry_in", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("listener: accept: %w", err)
		}
		tempDelay = 0
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	start := time.Now()
	logger := l.Logger.With(
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("connection_id", shoesconfig.ConnectionID()),
	)
	stream := shadowtls.WrapConn(conn, false)

	setup, err := shadowtls.SetupServerStream(ctx, stream, l.Target, l.Resolver)
	if err != nil {
		logger.Debug("rejected handshake", zap.Error(err))
		if l.Metrics != nil {
			l.Metrics.HandshakeRejected(l.Address, err)
		}
		_ = conn.Close()
		return
	}

	if l.Metrics != nil {
		l.Metrics.HandshakeAccepted(l.Address)
		l.Metrics.HandshakeDuration.WithLabelValues(l.Address).Observe(time.Since(start).Seconds())
	}
	logger.Info("handshake complete", zap.String("remote_location", setup.RemoteLocation.String()))

	up, down, err := relay(ctx, l.Address, l.Metrics, setup)
	logger.Debug("relay ended",
		zap.Error(err),
		zap.String("sent", humanize.Bytes(uint64(up))),
		zap.String("received", humanize.Bytes(uint64(down))),
	)
}

// relay dials setup.RemoteLocation and copies bytes in both directions
// until either side is done; when one direction ends, the other side's
// connection is closed so the opposite copy ends too. It performs the handoff steps HandlerSetup
// describes (initial remote data, success response, initial flush)
// before starting the copy loop, and returns how many bytes moved in
// each direction.
func relay(ctx context.Context, target string, m *metrics.Collector, setup *shadowtls.HandlerSetup) (up, down int64, err error) {
	remote, err := net.Dial("tcp", setup.RemoteLocation.String())
	if err != nil {
		return 0, 0, fmt.Errorf("listener: dialing remote %s: %w", setup.RemoteLocation, err)
	}
	defer remote.Close()

	if len(setup.InitialRemoteData) > 0 {
		if _, err := remote.Write(setup.InitialRemoteData); err != nil {
			return 0, 0, fmt.Errorf("listener: writing initial remote data: %w", err)
		}
	}
	if len(setup.ConnectionSuccessResponse) > 0 {
		if _, err := setup.Stream.Write(setup.ConnectionSuccessResponse); err != nil {
			return 0, 0, fmt.Errorf("listener: writing connection success response: %w", err)
		}
	}
	if setup.NeedInitialFlush {
		if err := setup.Stream.Flush(); err != nil {
			return 0, 0, fmt.Errorf("listener: flushing initial response: %w", err)
		}
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		n, err := io.Copy(remote, setup.Stream)
		up = n
		if m != nil {
			m.BytesRelayed.WithLabelValues(target, "up").Add(float64(n))
		}
		_ = remote.Close()
		return err
	})
	group.Go(func() error {
		n, err := io.Copy(setup.Stream, remote)
		down = n
		if m != nil {
			m.BytesRelayed.WithLabelValues(target, "down").Add(float64(n))
		}
		_ = setup.Stream.Shutdown()
		return err
	})
	err = group.Wait()
	return up, down, err
}
