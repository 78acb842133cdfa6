package shadowtls

import (
	"fmt"
	"io"
)

const (
	extensionServerName      = 0x0000
	extensionSupportedVers   = 0x002b
	serverNameTypeHostName   = 0x00
	sessionIDLenWithDigest   = 32
	digestLen                = 4
	tls10RecordVersionMajor  = 3
	tls10RecordVersionMinor  = 1
	tls12HandshakeVersionMaj = 3
	tls12HandshakeVersionMin = 3
)

// ParsedClientHello is the result of reading one TLS record off a fresh
// connection and parsing it as a ClientHello. It is consumed by
// SetupServerStream: the raw frame bytes are needed to forward verbatim
// (in the remote handshake variant) or feed into an in-process TLS
// server (in the local variant), and the digest fields locate the
// candidate HMAC tag so it can be verified and then zeroed back out
// when recomputing it.
type ParsedClientHello struct {
	Frame []byte

	RecordVersionMajor byte
	RecordVersionMinor byte
	HelloVersionMajor  byte
	HelloVersionMinor  byte

	Digest            *clientHelloDigest
	RequestedServerName string
	SupportsTLS13       bool

	reader *frameReader
}

type clientHelloDigest struct {
	candidate  tag
	startIndex int
	endIndex   int
}

// ReadClientHello reads exactly one TLS record from conn and parses it
// as a ClientHello. It does not verify the embedded HMAC tag — that
// requires the listener's password and is done by SetupServerStream.
func ReadClientHello(r io.Reader) (*ParsedClientHello, error) {
	fr := newFrameReader(r)

	rec, hdr, err := fr.readRecord()
	if err != nil {
		return nil, err
	}
	if rec.contentType != contentTypeHandshake {
		return nil, fmt.Errorf("shadowtls: expected client handshake: %w", ErrUnsupportedContentType)
	}
	if hdr[1] != tls10RecordVersionMajor || hdr[2] != tls10RecordVersionMinor {
		return nil, fmt.Errorf("shadowtls: expected client TLS record protocol 3.1, got %d.%d: %w", hdr[1], hdr[2], ErrUnsupportedVersion)
	}

	body := newCursor(rec.payload)

	msgType, err := body.u8()
	if err != nil {
		return nil, err
	}
	if msgType != handshakeTypeClientHello {
		return nil, fmt.Errorf("shadowtls: expected ClientHello message, got type %d", msgType)
	}

	msgLen, err := body.u24be()
	if err != nil {
		return nil, err
	}
	if int(msgLen)+4 != len(rec.payload) {
		return nil, fmt.Errorf("shadowtls: client hello message length mismatch (got %d, record carries %d)", msgLen, len(rec.payload)-4)
	}

	helloVersionMajor, err := body.u8()
	if err != nil {
		return nil, err
	}
	helloVersionMinor, err := body.u8()
	if err != nil {
		return nil, err
	}
	if helloVersionMajor != tls12HandshakeVersionMaj || helloVersionMinor != tls12HandshakeVersionMin {
		return nil, fmt.Errorf("shadowtls: unexpected ClientHello version %d.%d: %w", helloVersionMajor, helloVersionMinor, ErrUnsupportedVersion)
	}

	if err := body.skip(32); err != nil { // client_random
		return nil, err
	}

	sessionIDLen, err := body.u8()
	if err != nil {
		return nil, err
	}

	var digest *clientHelloDigest
	if sessionIDLen == sessionIDLenWithDigest {
		sessionID, err := body.slice(int(sessionIDLen))
		if err != nil {
			return nil, err
		}
		var candidate tag
		copy(candidate[:], sessionID[sessionIDLen-digestLen:])
		postSessionID := body.position()
		digest = &clientHelloDigest{
			candidate:  candidate,
			startIndex: tlsHeaderLen + postSessionID - digestLen,
			endIndex:   tlsHeaderLen + postSessionID,
		}
	} else {
		// a session id of any other length carries no covert marker;
		// there is nothing further worth parsing.
		return nil, ErrMissingSessionID
	}

	cipherSuiteLen, err := body.u16be()
	if err != nil {
		return nil, err
	}
	if err := body.skip(int(cipherSuiteLen)); err != nil {
		return nil, err
	}

	compressionLen, err := body.u8()
	if err != nil {
		return nil, err
	}
	if err := body.skip(int(compressionLen)); err != nil {
		return nil, err
	}

	extLen, err := body.u16be()
	if err != nil {
		return nil, err
	}
	extBytes, err := body.slice(int(extLen))
	if err != nil {
		return nil, err
	}

	sni, supportsTLS13, err := parseClientExtensions(extBytes)
	if err != nil {
		return nil, err
	}
	if !supportsTLS13 {
		return nil, ErrUnsupportedTLS13
	}

	frame := buildFrame(make([]byte, 0, tlsHeaderLen+len(rec.payload)), hdr, rec.payload)

	return &ParsedClientHello{
		Frame:               frame,
		RecordVersionMajor:  hdr[1],
		RecordVersionMinor:  hdr[2],
		HelloVersionMajor:   helloVersionMajor,
		HelloVersionMinor:   helloVersionMinor,
		Digest:              digest,
		RequestedServerName: sni,
		SupportsTLS13:       supportsTLS13,
		reader:              fr,
	}, nil
}

func parseClientExtensions(extBytes []byte) (sni string, supportsTLS13 bool, err error) {
	ext := newCursor(extBytes)
	sniSeen := false

	for !ext.consumed() {
		extType, err := ext.u16be()
		if err != nil {
			return "", false, err
		}
		extLen, err := ext.u16be()
		if err != nil {
			return "", false, err
		}

		switch extType {
		case extensionServerName:
			if sniSeen {
				return "", false, ErrMultipleServerNames
			}
			sniSeen = true
			if _, err := ext.u16be(); err != nil { // server_name_list length
				return "", false, err
			}
			nameType, err := ext.u8()
			if err != nil {
				return "", false, err
			}
			if nameType != serverNameTypeHostName {
				return "", false, ErrInvalidServerNameType
			}
			nameLen, err := ext.u16be()
			if err != nil {
				return "", false, err
			}
			name, err := ext.slice(int(nameLen))
			if err != nil {
				return "", false, err
			}
			sni = string(name)
		case extensionSupportedVers:
			listLen, err := ext.u8()
			if err != nil {
				return "", false, err
			}
			if listLen%2 != 0 {
				return "", false, fmt.Errorf("shadowtls: invalid odd supported_versions list length 0x%02x", listLen)
			}
			versions, err := ext.slice(int(listLen))
			if err != nil {
				return "", false, err
			}
			for i := 0; i+1 < len(versions); i += 2 {
				if versions[i] == 3 && versions[i+1] == 4 {
					supportsTLS13 = true
					break
				}
			}
		default:
			if err := ext.skip(int(extLen)); err != nil {
				return "", false, err
			}
		}
	}

	return sni, supportsTLS13, nil
}
