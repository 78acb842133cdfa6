// Package shadowtls implements the server side of the ShadowTLS v3
// handshake and post-handshake framing protocol.
//
// A ShadowTLS listener accepts a connection that looks, on the wire,
// like an ordinary TLS 1.3 client opening a session with some
// legitimate-looking server (the "cover"). Embedded in the ClientHello's
// session id is an HMAC tag proving the client holds a shared password.
// After the real (or locally terminated) TLS handshake completes, the
// client sends one more record whose payload begins with a rolling HMAC
// tag; from that point on both sides speak an opaque, authenticated
// framing over what continues to look like a stream of TLS application
// data records.
//
// This package never touches TLS key material and never interprets the
// bytes carried after the transition — it only locates frame boundaries,
// computes and checks HMAC tags, and XOR-masks handshake-phase payloads.
package shadowtls
