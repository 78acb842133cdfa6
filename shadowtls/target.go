package shadowtls

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"net"
)

// NetLocation names a remote endpoint by host and port, independent of
// whatever resolver or dialer eventually turns it into a connection.
type NetLocation struct {
	Host string
	Port int
}

func (l NetLocation) String() string {
	return net.JoinHostPort(l.Host, portString(l.Port))
}

func portString(p int) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Resolver is the name-resolution capability the remote handshake
// variant's connector pool depends on. It is supplied by the listener
// boot layer; the core never resolves names itself.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// Connector opens an outbound connection to a cover/handshake server.
// Concrete implementations (plain TCP, through an upstream proxy, …)
// live outside this package.
type Connector interface {
	Connect(ctx context.Context, resolver Resolver, loc NetLocation) (net.Conn, error)
}

// HandshakeConfig selects between the two orchestrator variants: a
// genuine remote cover server, or an in-process TLS termination.
type HandshakeConfig interface {
	isHandshakeConfig()
}

// LocalHandshake terminates the TLS 1.3 handshake itself using an
// in-process crypto/tls server.
type LocalHandshake struct {
	TLSConfig *tls.Config
}

func (LocalHandshake) isHandshakeConfig() {}

// RemoteHandshake proxies the handshake to a cover server reached
// through one of Connectors, selected round-robin.
type RemoteHandshake struct {
	Location   NetLocation
	Connectors []Connector

	counter roundRobinCounter
}

func (*RemoteHandshake) isHandshakeConfig() {}

func (h *RemoteHandshake) nextConnector() Connector {
	idx := h.counter.next(uint64(len(h.Connectors)))
	return h.Connectors[idx]
}

// ProxyProviderOverride is a value that may be deliberately unset,
// distinct from a zero value.
type ProxyProviderOverride struct {
	specified bool
	provider  any
}

// NoProxyProviderOverride returns an override that leaves whatever the
// inner handler already chose untouched.
func NoProxyProviderOverride() ProxyProviderOverride {
	return ProxyProviderOverride{}
}

// NewProxyProviderOverride wraps a concrete provider value.
func NewProxyProviderOverride(provider any) ProxyProviderOverride {
	return ProxyProviderOverride{specified: true, provider: provider}
}

func (o ProxyProviderOverride) Unspecified() bool { return !o.specified }
func (o ProxyProviderOverride) Value() any         { return o.provider }

// Handler is the inner, tunneled-protocol handler invoked once a
// connection has transitioned into ShadowTLS framing.
type Handler interface {
	SetupServerStream(ctx context.Context, stream Stream) (*HandlerSetup, error)
}

// HandlerSetup is the handoff result an inner Handler produces.
type HandlerSetup struct {
	RemoteLocation            NetLocation
	Stream                    Stream
	NeedInitialFlush          bool
	ConnectionSuccessResponse []byte
	InitialRemoteData         []byte
	OverrideProxyProvider     ProxyProviderOverride
}

// Target is a fully configured ShadowTLS listener target: a password,
// a handshake strategy, and the inner handler to hand traffic to after
// transition. It is immutable once constructed and is shared by every
// connection the listener accepts.
type Target struct {
	password string
	handshake HandshakeConfig
	handler   Handler
	override  ProxyProviderOverride

	xorSeed []byte
}

// NewTarget constructs a Target. password seeds both the HMAC key and
// the XOR context exactly once; the result is immutable per listener.
func NewTarget(password string, handshake HandshakeConfig, handler Handler, override ProxyProviderOverride) *Target {
	return &Target{
		password:  password,
		handshake: handshake,
		handler:   handler,
		override:  override,
		xorSeed:   []byte(password),
	}
}

func (t *Target) initialMAC() *rollingMAC {
	return newRollingMAC(t.password)
}

// xorKey derives X = SHA-256(password ‖ server_random). A pre-primed
// SHA-256 context that only hashes server_random on each call would
// save a few dozen bytes of hashing; at one call per connection that
// isn't worth a cloneable-hash dependency, so this just hashes the
// concatenation directly.
func (t *Target) xorKey(serverRandom []byte) [32]byte {
	h := sha256.New()
	h.Write(t.xorSeed)
	h.Write(serverRandom)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
