package shadowtls

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	tlsHeaderLen = 5
	maxPayload   = 65535
	maxFrameLen  = tlsHeaderLen + maxPayload

	contentTypeHandshake       = 0x16
	contentTypeApplicationData = 0x17

	handshakeTypeClientHello = 0x01
	handshakeTypeServerHello = 0x02
)

// record is a single TLS record: a 5-byte header plus its payload. The
// payload slice borrows from the frameReader's internal buffer and is
// only valid until the next call to readRecord.
type record struct {
	contentType byte
	versionMaj  byte
	versionMin  byte
	payload     []byte
}

func (r record) length() int { return len(r.payload) }

// frameReader reads length-prefixed TLS records off a byte stream. The
// underlying bufio.Reader gives us the buffering discipline this needs
// by hand (read exactly N bytes, retain any bytes read past a record
// boundary for the next consumer); maxFrameLen bounds how much payload
// any single record can carry, matching the TLS record cap of a 5-byte
// header plus up to 65535 bytes of payload.
type frameReader struct {
	br  *bufio.Reader
	buf []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		br:  bufio.NewReaderSize(r, maxFrameLen),
		buf: make([]byte, maxPayload),
	}
}

// readRecord reads one full TLS record: a 5-byte header followed by
// length(header) payload bytes.
func (fr *frameReader) readRecord() (record, [5]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(fr.br, hdr[:]); err != nil {
		return record{}, hdr, wrapReadErr(err, "tls record header")
	}
	payloadLen := int(binary.BigEndian.Uint16(hdr[3:5]))
	payload := fr.buf[:payloadLen]
	if payloadLen > 0 {
		if _, err := io.ReadFull(fr.br, payload); err != nil {
			return record{}, hdr, wrapReadErr(err, "tls record payload")
		}
	}
	return record{
		contentType: hdr[0],
		versionMaj:  hdr[1],
		versionMin:  hdr[2],
		payload:     payload,
	}, hdr, nil
}

// bufferedData returns (a copy of) any bytes already read into the
// reader's internal buffer beyond the most recently parsed record, so a
// caller that is about to hand the underlying connection off to a new
// owner doesn't lose them.
func (fr *frameReader) bufferedData() []byte {
	n := fr.br.Buffered()
	if n == 0 {
		return nil
	}
	peeked, _ := fr.br.Peek(n)
	out := make([]byte, n)
	copy(out, peeked)
	return out
}

func wrapReadErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("shadowtls: short read of %s: %w", what, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("shadowtls: reading %s: %w", what, err)
}

// buildFrame assembles a full on-wire record from a header and payload,
// reusing dst's storage when it has enough capacity.
func buildFrame(dst []byte, hdr [5]byte, payload []byte) []byte {
	dst = append(dst[:0], hdr[:]...)
	dst = append(dst, payload...)
	return dst
}
