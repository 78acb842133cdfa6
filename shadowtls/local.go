package shadowtls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// setupLocalHandshake terminates the TLS 1.3 handshake itself, in
// process, instead of proxying it through a cover server. Go's
// crypto/tls has no feed-ciphertext/drain-plaintext API, so the same
// effect is achieved with net.Pipe: one end is handed to a real
// *tls.Server running in its own goroutine, and the orchestrator treats
// the other end exactly like a cover connection, because from the
// outside that is exactly what it is — a peer that receives raw TLS
// records and emits raw TLS records in response.
func setupLocalHandshake(ctx context.Context, clientConn Stream, hello *ParsedClientHello, target *Target, handshake LocalHandshake) (*ShadowTlsStream, error) {
	serverSide, orchestratorSide := net.Pipe()
	tlsConn := tls.Server(serverSide, handshake.TLSConfig)

	// Buffered so the goroutine never blocks on send even if nobody
	// reads the result; the pipe being torn down on transition (or on
	// error) is what actually unblocks a Handshake in progress.
	handshakeDone := make(chan error, 1)
	go func() {
		handshakeDone <- tlsConn.HandshakeContext(ctx)
	}()

	stream, err := runRemoteLikeTee(ctx, clientConn, hello, target, orchestratorSide)
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("shadowtls: local handshake: %w", err)
	}
	return stream, nil
}
