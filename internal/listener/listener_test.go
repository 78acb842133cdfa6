package listener

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/shoes-proxy/shoes/shadowtls"
)

func TestListenQUICReturnsUnsupported(t *testing.T) {
	l := &Listener{}
	ln, err := l.ListenQUIC(nil)
	if ln != nil {
		t.Fatalf("expected nil listener, got %v", ln)
	}
	if !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("expected errors.ErrUnsupported, got %v", err)
	}
}

func TestRelayCopiesBothDirections(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening for echo server: %v", err)
	}
	defer echoLn.Close()

	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	_, portStr, err := net.SplitHostPort(echoLn.Addr().String())
	if err != nil {
		t.Fatalf("splitting echo address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing echo port: %v", err)
	}

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	setup := &shadowtls.HandlerSetup{
		RemoteLocation: shadowtls.NetLocation{Host: "127.0.0.1", Port: port},
		Stream:         shadowtls.WrapConn(serverSide, false),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := relay(ctx, "test", nil, setup)
		done <- err
	}()

	if _, err := clientSide.Write([]byte("hello")); err != nil {
		t.Fatalf("writing to pipe: %v", err)
	}

	buf := make([]byte, 5)
	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}

	clientSide.Close()
	<-done
}
