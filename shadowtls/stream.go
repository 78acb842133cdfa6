package shadowtls

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Stream is the capability set the core needs from whatever transport
// carries a connection: readable/writable bytes, an explicit flush
// point, a shutdown, and a way to ask whether the transport can carry
// keepalive pings. Plain TCP, TLS-wrapped, and QUIC-bidirectional
// streams all satisfy it without needing a shared base type, in
// preference to an inheritance hierarchy.
type Stream interface {
	io.Reader
	io.Writer
	Flush() error
	Shutdown() error
	SupportsPing() bool
}

// flusher is satisfied by transports that buffer writes (e.g.
// bufio.Writer-backed connections); WrapConn uses it opportunistically.
type flusher interface {
	Flush() error
}

// connStream adapts a plain io.ReadWriteCloser (ordinarily a net.Conn)
// to the Stream interface.
type connStream struct {
	io.ReadWriteCloser
	supportsPing bool
}

// WrapConn adapts an ordinary connection to Stream. supportsPing should
// be true for transports with an application-visible keepalive (e.g.
// QUIC); plain TCP and TLS streams pass false.
func WrapConn(conn io.ReadWriteCloser, supportsPing bool) Stream {
	return &connStream{ReadWriteCloser: conn, supportsPing: supportsPing}
}

func (c *connStream) Flush() error {
	if f, ok := c.ReadWriteCloser.(flusher); ok {
		return f.Flush()
	}
	return nil
}

func (c *connStream) Shutdown() error {
	return c.ReadWriteCloser.Close()
}

func (c *connStream) SupportsPing() bool {
	return c.supportsPing
}

// ShadowTlsStream is the post-transition framing: every Write produces
// exactly one record tagged with the server-direction rolling MAC;
// every Read validates and strips the client-direction tag. Both
// directions' rolling MAC contexts are mutated only by their own
// direction, so no locking is needed even though reads and writes may
// happen concurrently from different goroutines.
type ShadowTlsStream struct {
	inner Stream
	fr    *frameReader

	hc *rollingMAC // validates/consumes client->server frames
	hs *rollingMAC // produces server->client frames

	pending []byte // decoded plaintext not yet delivered to Read callers
}

// newShadowTlsStream builds the post-transition stream. initialPlaintext
// is the covert payload carried by the transition record itself and is
// delivered before anything is read from the socket again.
// unparsedRaw is any bytes the handshake-phase reader had already
// buffered past the transition record's boundary; they are replayed
// through the new frame reader ahead of further reads from inner.
func newShadowTlsStream(inner Stream, initialPlaintext, unparsedRaw []byte, hc, hs *rollingMAC) *ShadowTlsStream {
	var src io.Reader = inner
	if len(unparsedRaw) > 0 {
		src = io.MultiReader(bytes.NewReader(unparsedRaw), inner)
	}
	return &ShadowTlsStream{
		inner:   inner,
		fr:      newFrameReader(src),
		hc:      hc,
		hs:      hs,
		pending: initialPlaintext,
	}
}

func (s *ShadowTlsStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		rec, _, err := s.fr.readRecord()
		if err != nil {
			return 0, err
		}
		if rec.contentType != contentTypeApplicationData {
			return 0, fmt.Errorf("shadowtls: unexpected content type 0x%02x in post-transition stream: %w", rec.contentType, ErrUnsupportedContentType)
		}
		if rec.length() < digestLen {
			return 0, ErrShortFrame
		}

		gotTagBytes := rec.payload[:digestLen]
		body := rec.payload[digestLen:]

		check := s.hc.clone()
		check.update(body)
		want := check.finalizedDigest()

		var got tag
		copy(got[:], gotTagBytes)
		if !want.equal(got) {
			return 0, ErrHMACMismatch
		}

		s.hc.update(body)
		s.hc.update(gotTagBytes)

		// rec.payload aliases the frame reader's reusable buffer, so
		// it must be copied out before the next readRecord call.
		buffered := make([]byte, len(body))
		copy(buffered, body)
		s.pending = buffered
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *ShadowTlsStream) Write(p []byte) (int, error) {
	if len(p) > maxPayload-digestLen {
		return 0, ErrFrameTooLarge
	}

	s.hs.update(p)
	tagBytes := s.hs.digest()

	frame := make([]byte, 0, tlsHeaderLen+digestLen+len(p))
	frame = append(frame, contentTypeApplicationData, tls12HandshakeVersionMaj, tls12HandshakeVersionMin, 0, 0)
	binary.BigEndian.PutUint16(frame[3:5], uint16(len(p)+digestLen))
	frame = append(frame, tagBytes[:]...)
	frame = append(frame, p...)

	if _, err := s.inner.Write(frame); err != nil {
		return 0, err
	}

	s.hs.update(tagBytes[:])

	return len(p), nil
}

func (s *ShadowTlsStream) Flush() error {
	return s.inner.Flush()
}

func (s *ShadowTlsStream) Shutdown() error {
	return s.inner.Shutdown()
}

// SupportsPing always reports false: ShadowTLS framing has no
// keepalive primitive of its own, regardless of what the underlying
// transport offers.
func (s *ShadowTlsStream) SupportsPing() bool {
	return false
}
