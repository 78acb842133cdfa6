package shadowtls

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// handshakeTranscript is everything derived from server_random once the
// ServerHello has been seen.
//
// handshakeTag is kept distinct from serverTag on purpose: the HMAC
// context that masks/tags ApplicationData records emitted by the
// cover/local TLS stack *during* the handshake accumulates across every
// such record starting from H_sr, while the context that will become
// the post-transition server-direction rolling MAC (serverTag, forked
// with the "S" label) is handed to ShadowTlsStream untouched. The two
// only look like they should be the same context; they are not, and
// conflating them would silently desynchronize with a real ShadowTLS
// v3 peer.
type handshakeTranscript struct {
	handshakeTag *rollingMAC // accumulates server-direction handshake-phase records
	clientTag    *rollingMAC // "C"-labeled; used for recognition both before and after transition
	serverTag    *rollingMAC // "S"-labeled; untouched until construction of ShadowTlsStream
	xorKey       [32]byte
}

func deriveTranscript(target *Target, serverRandom []byte) *handshakeTranscript {
	hsr := target.initialMAC()
	hsr.update(serverRandom)

	return &handshakeTranscript{
		handshakeTag: hsr.clone(),
		clientTag:    withLabel(hsr, "C"),
		serverTag:    withLabel(hsr, "S"),
		xorKey:       target.xorKey(serverRandom),
	}
}

func withLabel(base *rollingMAC, label string) *rollingMAC {
	forked := base.clone()
	forked.update([]byte(label))
	return forked
}

// exchangeHello forwards the client's hello frame to the cover side
// (either a real cover server, or the write end of a net.Pipe feeding an
// in-process crypto/tls server) and reads back its ServerHello. It
// returns the frameReader it used, so the caller can keep reading
// through the exact same buffering state in the tee loop that follows.
func exchangeHello(cover io.ReadWriter, hello *ParsedClientHello) (*ServerHello, []byte, *frameReader, error) {
	if _, err := cover.Write(hello.Frame); err != nil {
		return nil, nil, nil, fmt.Errorf("shadowtls: forwarding client hello to handshake server: %w", err)
	}
	if f, ok := cover.(flusher); ok {
		if err := f.Flush(); err != nil {
			return nil, nil, nil, fmt.Errorf("shadowtls: flushing client hello to handshake server: %w", err)
		}
	}

	coverReader := newFrameReader(cover)
	rec, hdr, err := coverReader.readRecord()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("shadowtls: reading server hello from handshake server: %w", err)
	}
	frame := buildFrame(make([]byte, 0, tlsHeaderLen+rec.length()), hdr, rec.payload)

	serverHello, err := ParseServerHello(frame)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("shadowtls: parsing server hello: %w", err)
	}
	return serverHello, frame, coverReader, nil
}

// runHandshakeTee drives the bidirectional relay that continues for as
// long as the real TLS handshake is still running, shared unmodified by
// both handshake variants: cover is whatever is terminating the real
// TLS handshake, whether a genuine remote peer (remote variant) or an
// in-process crypto/tls.Server reached through a net.Pipe (local
// variant). Bytes flow in both directions one full TLS record at a
// time; the loop ends the moment the client sends a record whose
// payload begins with a valid rolling HMAC tag under the "C" label, or
// either side fails.
func runHandshakeTee(
	ctx context.Context,
	clientConn Stream,
	clientReader *frameReader,
	cover io.ReadWriteCloser,
	coverReader *frameReader,
	transcript *handshakeTranscript,
) (*ShadowTlsStream, error) {
	egctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, egctx := errgroup.WithContext(egctx)

	var result *ShadowTlsStream

	group.Go(func() error {
		return relayCoverToClient(egctx, coverReader, clientConn, transcript)
	})
	group.Go(func() error {
		stream, transitioned, err := relayClientToCover(egctx, clientReader, clientConn, cover, transcript)
		if err != nil {
			return err
		}
		if transitioned {
			result = stream
			cancel()
			_ = cover.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("shadowtls: handshake relay ended without a transition or an error")
	}
	return result, nil
}

// relayCoverToClient forwards records from the cover/local TLS stack to
// the real client, re-framing ApplicationData records into the masked,
// tagged wire shape a ShadowTLS client expects during the handshake
// phase.
func relayCoverToClient(ctx context.Context, coverReader *frameReader, clientConn Stream, transcript *handshakeTranscript) error {
	for {
		rec, hdr, err := coverReader.readRecord()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shadowtls: reading from handshake server: %w", err)
		}

		var out []byte
		if rec.contentType == contentTypeApplicationData {
			if rec.length() > maxPayload-digestLen {
				return ErrFrameTooLarge
			}
			xorInPlace(rec.payload, transcript.xorKey[:])
			transcript.handshakeTag.update(rec.payload)
			tagBytes := transcript.handshakeTag.digest()

			out = make([]byte, 0, tlsHeaderLen+digestLen+rec.length())
			out = append(out, hdr[0], hdr[1], hdr[2], 0, 0)
			binary.BigEndian.PutUint16(out[3:5], uint16(rec.length())+digestLen)
			out = append(out, tagBytes[:]...)
			out = append(out, rec.payload...)
		} else {
			out = buildFrame(make([]byte, 0, tlsHeaderLen+rec.length()), hdr, rec.payload)
		}

		if _, err := clientConn.Write(out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shadowtls: writing to client: %w", err)
		}
		if err := clientConn.Flush(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shadowtls: flushing to client: %w", err)
		}
	}
}

// relayClientToCover forwards records from the real client to the
// cover/local TLS stack, attempting the transition recognition on every
// ApplicationData record. It returns (stream, true, nil) once the
// transition is found.
func relayClientToCover(ctx context.Context, clientReader *frameReader, clientConn Stream, cover io.Writer, transcript *handshakeTranscript) (*ShadowTlsStream, bool, error) {
	for {
		rec, hdr, err := clientReader.readRecord()
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("shadowtls: reading from client: %w", err)
		}

		if rec.contentType == contentTypeApplicationData && rec.length() >= digestLen {
			gotTagBytes := rec.payload[:digestLen]
			body := rec.payload[digestLen:]

			check := transcript.clientTag.clone()
			check.update(body)
			want := check.finalizedDigest()

			var got tag
			copy(got[:], gotTagBytes)

			if want.equal(got) {
				initialPlaintext := append([]byte(nil), body...)

				transcript.clientTag.update(body)
				transcript.clientTag.update(gotTagBytes)

				unparsed := clientReader.bufferedData()
				stream := newShadowTlsStream(clientConn, initialPlaintext, unparsed, transcript.clientTag, transcript.serverTag)
				return stream, true, nil
			}
		}

		frame := buildFrame(make([]byte, 0, tlsHeaderLen+rec.length()), hdr, rec.payload)
		if _, err := cover.Write(frame); err != nil {
			if ctx.Err() != nil {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("shadowtls: writing to handshake server: %w", err)
		}
		if f, ok := cover.(flusher); ok {
			if err := f.Flush(); err != nil {
				return nil, false, fmt.Errorf("shadowtls: flushing to handshake server: %w", err)
			}
		}
	}
}

func xorInPlace(dst, key []byte) {
	for i := range dst {
		dst[i] ^= key[i%len(key)]
	}
}
