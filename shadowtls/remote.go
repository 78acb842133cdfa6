package shadowtls

import (
	"context"
	"fmt"
	"net"
)

// setupRemoteHandshake carries out the real TLS 1.3 handshake through a
// genuine cover server somewhere on the network, reached through one of
// the handshake's connectors. This package never speaks TLS itself in
// this variant; it only forwards and re-frames records until it
// recognizes the client's transition record.
func setupRemoteHandshake(ctx context.Context, clientConn Stream, hello *ParsedClientHello, target *Target, handshake *RemoteHandshake, resolver Resolver) (*ShadowTlsStream, error) {
	connector := handshake.nextConnector()

	cover, err := connector.Connect(ctx, resolver, handshake.Location)
	if err != nil {
		return nil, fmt.Errorf("shadowtls: dialing handshake server %s: %w", handshake.Location, err)
	}

	stream, err := runRemoteLikeTee(ctx, clientConn, hello, target, cover)
	if err != nil {
		_ = cover.Close()
		return nil, err
	}
	return stream, nil
}

// runRemoteLikeTee is the part shared with the local variant once a
// cover connection (real or net.Pipe-backed) exists: exchange hellos,
// derive the session transcript, and relay.
func runRemoteLikeTee(ctx context.Context, clientConn Stream, hello *ParsedClientHello, target *Target, cover net.Conn) (*ShadowTlsStream, error) {
	serverHello, serverHelloFrame, coverReader, err := exchangeHello(cover, hello)
	if err != nil {
		return nil, err
	}

	if _, err := clientConn.Write(serverHelloFrame); err != nil {
		return nil, fmt.Errorf("shadowtls: forwarding server hello to client: %w", err)
	}
	if err := clientConn.Flush(); err != nil {
		return nil, fmt.Errorf("shadowtls: flushing server hello to client: %w", err)
	}

	transcript := deriveTranscript(target, serverHello.ServerRandom[:])

	return runHandshakeTee(ctx, clientConn, hello.reader, cover, coverReader, transcript)
}
