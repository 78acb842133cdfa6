package shadowtls

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // ShadowTLS v3 fixes HMAC-SHA1 as part of its wire format
	"io"
	"net"
	"testing"
)

// peerWriteFrame writes one post-transition ApplicationData frame as a
// real ShadowTLS peer would, advancing mac exactly like
// ShadowTlsStream.Write does, so it can be handed to Read on the other
// end of the pipe. The tag folds in payload before it is computed,
// matching the rolling-MAC convention: tag = H.clone().update(payload).digest().
func peerWriteFrame(w io.Writer, mac *rollingMAC, payload []byte) error {
	check := mac.clone()
	check.update(payload)
	tagBytes := check.finalizedDigest()

	frame := make([]byte, 0, tlsHeaderLen+digestLen+len(payload))
	frame = append(frame, contentTypeApplicationData, tls12HandshakeVersionMaj, tls12HandshakeVersionMin)
	frame = append(frame, byte((len(payload)+digestLen)>>8), byte(len(payload)+digestLen))
	frame = append(frame, tagBytes[:]...)
	frame = append(frame, payload...)
	_, err := w.Write(frame)
	mac.update(payload)
	mac.update(tagBytes[:])
	return err
}

func newMatchedStreamPair(t *testing.T) (*ShadowTlsStream, net.Conn, *rollingMAC, *rollingMAC) {
	t.Helper()

	base := newRollingMAC("a shared password")
	base.update([]byte("server-random-placeholder-bytes"))
	cTag := withLabel(base, "C")
	sTag := withLabel(base, "S")

	serverConn, peerConn := net.Pipe()
	stream := newShadowTlsStream(WrapConn(serverConn, false), nil, nil, cTag.clone(), sTag.clone())

	// The peer's view of the same two rolling contexts, forked
	// independently so mutating the stream's copies doesn't also
	// mutate these.
	peerC := cTag.clone()
	peerS := sTag.clone()
	return stream, peerConn, peerC, peerS
}

func TestShadowTlsStreamWriteProducesVerifiableFrame(t *testing.T) {
	stream, peerConn, _, peerS := newMatchedStreamPair(t)
	defer peerConn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := stream.Write([]byte("hello client"))
		done <- err
	}()

	fr := newFrameReader(peerConn)
	rec, _, err := fr.readRecord()
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}

	if rec.contentType != contentTypeApplicationData {
		t.Fatalf("contentType = 0x%02x", rec.contentType)
	}
	gotTag := rec.payload[:digestLen]
	body := rec.payload[digestLen:]
	if string(body) != "hello client" {
		t.Fatalf("body = %q", body)
	}

	check := peerS.clone()
	check.update(body)
	want := check.finalizedDigest()
	var got tag
	copy(got[:], gotTag)
	if !want.equal(got) {
		t.Fatal("tag does not match the mirrored server-direction MAC")
	}
}

// TestShadowTlsStreamWriteMatchesSpecVector pins the emitted tag to the
// literal wire-format vector from spec.md §8 scenario 1: writing "pong"
// after a ServerHello with a fixed server_random must produce
// T = first4(HMAC-SHA1(K_mac, server_random ‖ "S" ‖ "pong")), computed
// independently of rollingMAC so a regression to "tag computed before
// the body is folded in" cannot pass by sharing the bug with the
// helper under test.
func TestShadowTlsStreamWriteMatchesSpecVector(t *testing.T) {
	const password = "secret"
	serverRandom := bytes.Repeat([]byte{0x42}, 32)

	base := newRollingMAC(password)
	base.update(serverRandom)
	cTag := withLabel(base, "C")
	sTag := withLabel(base, "S")

	serverConn, peerConn := net.Pipe()
	defer peerConn.Close()
	stream := newShadowTlsStream(WrapConn(serverConn, false), nil, nil, cTag, sTag)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Write([]byte("pong"))
		done <- err
	}()

	fr := newFrameReader(peerConn)
	rec, _, err := fr.readRecord()
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}

	gotTag := rec.payload[:digestLen]
	body := rec.payload[digestLen:]
	if string(body) != "pong" {
		t.Fatalf("body = %q, want %q", body, "pong")
	}

	oracle := hmac.New(sha1.New, []byte(password))
	oracle.Write(serverRandom)
	oracle.Write([]byte("S"))
	oracle.Write([]byte("pong"))
	wantTag := oracle.Sum(nil)[:digestLen]

	if !bytes.Equal(gotTag, wantTag) {
		t.Fatalf("tag = % x, want % x (spec.md §8 scenario 1)", gotTag, wantTag)
	}
}

func TestShadowTlsStreamReadValidatesAndStripsTag(t *testing.T) {
	stream, peerConn, peerC, _ := newMatchedStreamPair(t)
	defer peerConn.Close()

	done := make(chan error, 1)
	go func() {
		done <- peerWriteFrame(peerConn, peerC, []byte("hello server"))
	}()

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("peerWriteFrame: %v", err)
	}
	if string(buf[:n]) != "hello server" {
		t.Fatalf("Read body = %q", buf[:n])
	}
}

func TestShadowTlsStreamReadRejectsBadTag(t *testing.T) {
	stream, peerConn, peerC, _ := newMatchedStreamPair(t)
	defer peerConn.Close()

	tampered := peerC.clone()
	tampered.update([]byte("wrong prior state"))

	done := make(chan error, 1)
	go func() {
		done <- peerWriteFrame(peerConn, tampered, []byte("forged"))
	}()

	buf := make([]byte, 64)
	_, err := stream.Read(buf)
	<-done
	if err != ErrHMACMismatch {
		t.Fatalf("err = %v, want ErrHMACMismatch", err)
	}
}

func TestShadowTlsStreamDeliversInitialPlaintextBeforeSocketReads(t *testing.T) {
	serverConn, peerConn := net.Pipe()
	defer peerConn.Close()
	defer serverConn.Close()

	base := newRollingMAC("pw")
	cTag := withLabel(base, "C")
	sTag := withLabel(base, "S")
	stream := newShadowTlsStream(WrapConn(serverConn, false), []byte("covert payload"), nil, cTag, sTag)

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "covert payload" {
		t.Fatalf("Read = %q, want %q", buf[:n], "covert payload")
	}
}

func TestShadowTlsStreamReplaysUnparsedBytesAheadOfSocket(t *testing.T) {
	base := newRollingMAC("pw")
	cTag := withLabel(base, "C")
	sTag := withLabel(base, "S")

	serverConn, peerConn := net.Pipe()
	defer peerConn.Close()

	var leftover []byte
	peerTag := cTag.clone()
	{
		var buf writeRecorder
		if err := peerWriteFrame(&buf, peerTag, []byte("buffered-before-handoff")); err != nil {
			t.Fatalf("peerWriteFrame: %v", err)
		}
		leftover = buf.data
	}

	stream := newShadowTlsStream(WrapConn(serverConn, false), nil, leftover, cTag, sTag)

	out := make([]byte, 64)
	n, err := stream.Read(out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out[:n]) != "buffered-before-handoff" {
		t.Fatalf("Read = %q", out[:n])
	}
}

// writeRecorder is a minimal io.Writer that accumulates everything
// written to it, used to build a frame's raw bytes without a real
// connection.
type writeRecorder struct {
	data []byte
}

func (w *writeRecorder) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
