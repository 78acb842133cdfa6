package shadowtls

import (
	"bytes"
	"testing"
)

func buildClientHelloRecord(t *testing.T, sessionID []byte, sni string, includeTLS13 bool) []byte {
	t.Helper()

	var ext bytes.Buffer
	if sni != "" {
		var sniBody bytes.Buffer
		var nameList bytes.Buffer
		nameList.WriteByte(serverNameTypeHostName)
		nameList.Write(u16(uint16(len(sni))))
		nameList.WriteString(sni)
		sniBody.Write(u16(uint16(nameList.Len())))
		sniBody.Write(nameList.Bytes())

		ext.Write(u16(extensionServerName))
		ext.Write(u16(uint16(sniBody.Len())))
		ext.Write(sniBody.Bytes())
	}

	var versions bytes.Buffer
	if includeTLS13 {
		versions.Write([]byte{3, 4})
	}
	versions.Write([]byte{3, 3})
	ext.Write(u16(extensionSupportedVers))
	ext.Write(u16(uint16(1 + versions.Len())))
	ext.WriteByte(byte(versions.Len()))
	ext.Write(versions.Bytes())

	var body bytes.Buffer
	body.WriteByte(tls12HandshakeVersionMaj)
	body.WriteByte(tls12HandshakeVersionMin)
	body.Write(make([]byte, 32)) // client_random
	body.WriteByte(byte(len(sessionID)))
	body.Write(sessionID)
	body.Write(u16(2))
	body.Write([]byte{0x13, 0x01}) // one cipher suite
	body.WriteByte(1)
	body.WriteByte(0) // no compression
	body.Write(u16(uint16(ext.Len())))
	body.Write(ext.Bytes())

	var msg bytes.Buffer
	msg.WriteByte(handshakeTypeClientHello)
	msg.Write(u24(uint32(body.Len())))
	msg.Write(body.Bytes())

	var record bytes.Buffer
	record.WriteByte(contentTypeHandshake)
	record.WriteByte(tls10RecordVersionMajor)
	record.WriteByte(tls10RecordVersionMinor)
	record.Write(u16(uint16(msg.Len())))
	record.Write(msg.Bytes())

	return record.Bytes()
}

func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func u24(v uint32) []byte { return []byte{byte(v >> 16), byte(v >> 8), byte(v)} }

func TestReadClientHelloParsesSNIAndDigest(t *testing.T) {
	sessionID := make([]byte, 32)
	copy(sessionID, []byte("01234567890123456789012345"))
	copy(sessionID[28:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	wire := buildClientHelloRecord(t, sessionID, "example.com", true)

	hello, err := ReadClientHello(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadClientHello: %v", err)
	}
	if hello.RequestedServerName != "example.com" {
		t.Fatalf("RequestedServerName = %q", hello.RequestedServerName)
	}
	if !hello.SupportsTLS13 {
		t.Fatal("expected SupportsTLS13 = true")
	}
	if hello.Digest == nil {
		t.Fatal("expected a non-nil digest")
	}
	if hello.Digest.candidate != (tag{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("candidate tag = %v", hello.Digest.candidate)
	}
	if !bytes.Equal(hello.Frame, wire) {
		t.Fatal("Frame does not round-trip the original wire bytes")
	}
}

func TestReadClientHelloRejectsMissingTLS13(t *testing.T) {
	sessionID := make([]byte, 32)
	wire := buildClientHelloRecord(t, sessionID, "example.com", false)

	_, err := ReadClientHello(bytes.NewReader(wire))
	if err != ErrUnsupportedTLS13 {
		t.Fatalf("err = %v, want ErrUnsupportedTLS13", err)
	}
}

func TestReadClientHelloRejectsShortSessionID(t *testing.T) {
	wire := buildClientHelloRecord(t, make([]byte, 16), "example.com", true)

	_, err := ReadClientHello(bytes.NewReader(wire))
	if err != ErrMissingSessionID {
		t.Fatalf("err = %v, want ErrMissingSessionID", err)
	}
}

func TestReadClientHelloRejectsWrongRecordVersion(t *testing.T) {
	wire := buildClientHelloRecord(t, make([]byte, 32), "example.com", true)
	wire[1] = 0x03
	wire[2] = 0x03 // should be 3.1, not 3.3

	_, err := ReadClientHello(bytes.NewReader(wire))
	if err == nil {
		t.Fatal("expected an error for a non-3.1 record version")
	}
}

func TestReadClientHelloRejectsNonHandshakeRecord(t *testing.T) {
	wire := buildClientHelloRecord(t, make([]byte, 32), "example.com", true)
	wire[0] = contentTypeApplicationData

	_, err := ReadClientHello(bytes.NewReader(wire))
	if err == nil {
		t.Fatal("expected an error for a non-handshake record")
	}
}
