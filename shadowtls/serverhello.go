package shadowtls

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// helloRetryRequestRandom is the fixed server_random value TLS 1.3
// servers send in a HelloRetryRequest (RFC 8446 §4.1.3). ShadowTLS
// cannot proceed through a retry round trip, so it is rejected.
var helloRetryRequestRandom = [32]byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11, 0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E, 0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

// ServerHello is the result of parsing a ServerHello record: just
// enough to derive the ShadowTLS session transcript.
type ServerHello struct {
	ServerRandom [32]byte
}

// ParseServerHello validates a complete ServerHello record (its 5-byte
// record header at frame[0:5]) and extracts server_random.
func ParseServerHello(frame []byte) (*ServerHello, error) {
	if len(frame) < tlsHeaderLen+4 {
		return nil, fmt.Errorf("shadowtls: server hello frame too short for a header")
	}
	if frame[0] != contentTypeHandshake {
		return nil, fmt.Errorf("shadowtls: expected server handshake: %w", ErrUnsupportedContentType)
	}
	if frame[1] != tls12HandshakeVersionMaj || frame[2] != tls12HandshakeVersionMin {
		return nil, fmt.Errorf("shadowtls: unexpected server TLS record version %d.%d: %w", frame[1], frame[2], ErrUnsupportedVersion)
	}

	payloadLen := int(binary.BigEndian.Uint16(frame[3:5]))
	body := newCursor(frame[tlsHeaderLen:])

	msgType, err := body.u8()
	if err != nil {
		return nil, err
	}
	if msgType != handshakeTypeServerHello {
		return nil, fmt.Errorf("shadowtls: expected ServerHello message, got type %d", msgType)
	}
	msgLen, err := body.u24be()
	if err != nil {
		return nil, err
	}
	if int(msgLen)+4 != payloadLen {
		return nil, fmt.Errorf("shadowtls: server hello message length mismatch (got %d, record carries %d)", msgLen, payloadLen-4)
	}

	versionMajor, err := body.u8()
	if err != nil {
		return nil, err
	}
	versionMinor, err := body.u8()
	if err != nil {
		return nil, err
	}
	if versionMajor != tls12HandshakeVersionMaj || versionMinor != tls12HandshakeVersionMin {
		return nil, fmt.Errorf("shadowtls: expected TLS 1.2 record version in ServerHello (3.3), got %d.%d: %w", versionMajor, versionMinor, ErrUnsupportedVersion)
	}

	randomBytes, err := body.slice(32)
	if err != nil {
		return nil, err
	}
	var random [32]byte
	copy(random[:], randomBytes)
	if bytes.Equal(random[:], helloRetryRequestRandom[:]) {
		return nil, ErrHelloRetryRequest
	}

	sessionIDLen, err := body.u8()
	if err != nil {
		return nil, err
	}
	if sessionIDLen != 32 {
		return nil, fmt.Errorf("shadowtls: expected ServerHello session id length 32, got %d", sessionIDLen)
	}
	if err := body.skip(int(sessionIDLen)); err != nil {
		return nil, err
	}
	if err := body.skip(2); err != nil { // selected cipher suite
		return nil, err
	}
	if err := body.skip(1); err != nil { // compression method
		return nil, err
	}

	extLen, err := body.u16be()
	if err != nil {
		return nil, err
	}
	extBytes, err := body.slice(int(extLen))
	if err != nil {
		return nil, fmt.Errorf("shadowtls: server hello message too short for extensions: %w", err)
	}

	ext := newCursor(extBytes)
	sawSupportedVersions := false
	for !ext.consumed() {
		extType, err := ext.u16be()
		if err != nil {
			return nil, fmt.Errorf("shadowtls: failed to read extension type from ServerHello: %w", err)
		}
		extValLen, err := ext.u16be()
		if err != nil {
			return nil, fmt.Errorf("shadowtls: failed to read extension length from ServerHello: %w", err)
		}
		if extType == extensionSupportedVers {
			versionBytes, err := ext.slice(2)
			if err != nil {
				return nil, fmt.Errorf("shadowtls: failed to read supported version from ServerHello: %w", err)
			}
			if versionBytes[0] != 3 || versionBytes[1] != 4 {
				return nil, fmt.Errorf("shadowtls: expected server supported_versions to be TLS 1.3 (0x0304), got 0x%02x%02x", versionBytes[0], versionBytes[1])
			}
			sawSupportedVersions = true
		} else {
			if err := ext.skip(int(extValLen)); err != nil {
				return nil, fmt.Errorf("shadowtls: failed to skip extension in ServerHello: %w", err)
			}
		}
	}
	if !sawSupportedVersions {
		return nil, ErrMissingSupportedVers
	}

	return &ServerHello{ServerRandom: random}, nil
}
