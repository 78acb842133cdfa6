// Package tcpforward implements a minimal shadowtls.Handler that
// forwards a post-transition stream to a fixed set of plain TCP
// targets, round-robin. It is grounded directly on the original
// source's PortForwardServerHandler: no protocol is spoken on top of
// the forwarded bytes, there is no initial flush, and no response is
// sent back before the caller starts relaying.
package tcpforward

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shoes-proxy/shoes/shadowtls"
)

// Handler forwards to one of its targets, chosen round-robin across
// connections the same way the source's AtomicU32 index does.
type Handler struct {
	targets []shadowtls.NetLocation
	next    atomic.Uint64
}

// New builds a Handler. At least one target is required.
func New(targets []shadowtls.NetLocation) (*Handler, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("tcpforward: at least one forward target is required")
	}
	return &Handler{targets: targets}, nil
}

// SetupServerStream implements shadowtls.Handler.
func (h *Handler) SetupServerStream(_ context.Context, stream shadowtls.Stream) (*shadowtls.HandlerSetup, error) {
	loc := h.targets[0]
	if len(h.targets) > 1 {
		idx := h.next.Add(1) - 1
		loc = h.targets[idx%uint64(len(h.targets))]
	}

	return &shadowtls.HandlerSetup{
		RemoteLocation:        loc,
		Stream:                stream,
		NeedInitialFlush:      false,
		OverrideProxyProvider: shadowtls.NoProxyProviderOverride(),
	}, nil
}
