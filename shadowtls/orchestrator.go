package shadowtls

import (
	"context"
	"fmt"
)

// SetupServerStream is the single entry point for a server-side
// ShadowTLS v3 handshake: verify the ClientHello's embedded HMAC tag,
// run whichever handshake variant target.handshake selects, and hand
// the resulting post-transition stream to target's inner Handler.
//
// conn must not have had any bytes consumed from it yet; SetupServerStream
// reads the ClientHello itself.
func SetupServerStream(ctx context.Context, conn Stream, target *Target, resolver Resolver) (*HandlerSetup, error) {
	hello, err := ReadClientHello(conn)
	if err != nil {
		return nil, err
	}
	return setupServerStreamFromHello(ctx, conn, hello, target, resolver)
}

// setupServerStreamFromHello is split out from SetupServerStream so
// tests can supply a ParsedClientHello obtained from a separate reader
// (e.g. to exercise the two handshake variants against a fixed hello).
func setupServerStreamFromHello(ctx context.Context, conn Stream, hello *ParsedClientHello, target *Target, resolver Resolver) (*HandlerSetup, error) {
	if err := verifyClientHelloTag(hello, target); err != nil {
		return nil, err
	}

	var stream *ShadowTlsStream
	var err error
	switch h := target.handshake.(type) {
	case *RemoteHandshake:
		stream, err = setupRemoteHandshake(ctx, conn, hello, target, h, resolver)
	case LocalHandshake:
		stream, err = setupLocalHandshake(ctx, conn, hello, target, h)
	default:
		return nil, fmt.Errorf("shadowtls: unknown handshake configuration %T", target.handshake)
	}
	if err != nil {
		return nil, err
	}

	setup, err := target.handler.SetupServerStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("shadowtls: inner handler setup failed: %w", err)
	}
	if setup.OverrideProxyProvider.Unspecified() && !target.override.Unspecified() {
		setup.OverrideProxyProvider = target.override
	}
	return setup, nil
}

// verifyClientHelloTag checks the HMAC tag embedded in the ClientHello's
// session id: a fresh HMAC context is fed the frame bytes on either side of the
// candidate tag (with the tag position itself replaced by four zero
// bytes) and the result must match the candidate exactly. hello.Digest
// is guaranteed non-nil: ReadClientHello already rejects any ClientHello
// whose session id isn't exactly 32 bytes.
func verifyClientHelloTag(hello *ParsedClientHello, target *Target) error {
	h := target.initialMAC()
	h.update(hello.Frame[tlsHeaderLen:hello.Digest.startIndex])
	h.update([]byte{0, 0, 0, 0})
	h.update(hello.Frame[hello.Digest.endIndex:])

	if !h.finalizedDigest().equal(hello.Digest.candidate) {
		return ErrHMACMismatch
	}
	return nil
}
