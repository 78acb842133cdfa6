package shadowtls

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // ShadowTLS v3 fixes HMAC-SHA1 as part of its wire format
	"crypto/subtle"
	"fmt"
	"hash"
)

// tag is the 4-byte truncated HMAC-SHA1 that ShadowTLS embeds in the
// ClientHello session id and prepends to every post-handshake record.
type tag [4]byte

func (t tag) equal(other tag) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// rollingMAC is a clonable HMAC-SHA1 context. "Rolling" because, once a
// connection transitions into ShadowTLS framing, every outbound frame's
// tag is folded back into the context along with the frame body, so the
// next tag depends on the entire prior transcript in that direction.
//
// crypto/hmac's Hash does not implement encoding.BinaryMarshaler (its
// doc comment says so explicitly), so forking it relies instead on
// hash.Cloner, added to the standard library alongside deep-copyable
// hash.Hash implementations: crypto/hmac's result implements it
// whenever the underlying hash does (sha1 does). That is used here in
// place of a bespoke clone: no third-party crate in this repo's
// ecosystem offers a clonable HMAC context, and hand-rolling one by
// re-feeding the full prior byte history on every fork would make the
// cost of a fork grow with connection lifetime instead of staying O(1).
type rollingMAC struct {
	key []byte
	h   hash.Hash
}

// newRollingMAC derives the initial HMAC context H0 from the listener's
// pre-shared password.
func newRollingMAC(password string) *rollingMAC {
	return &rollingMAC{
		key: []byte(password),
		h:   hmac.New(sha1.New, []byte(password)),
	}
}

// clone forks the transcript: the returned context starts with exactly
// the bytes fed into m so far, and further updates to either context do
// not affect the other.
func (m *rollingMAC) clone() *rollingMAC {
	cloner, ok := m.h.(hash.Cloner)
	if !ok {
		// crypto/hmac over crypto/sha1 always satisfies this; a panic
		// here would indicate a standard library change, not bad input.
		panic("shadowtls: hmac state is not clonable")
	}
	fork, err := cloner.Clone()
	if err != nil {
		panic(fmt.Sprintf("shadowtls: clone hmac state: %v", err))
	}
	return &rollingMAC{key: m.key, h: fork}
}

// update feeds additional bytes into the running transcript.
func (m *rollingMAC) update(p []byte) {
	m.h.Write(p)
}

// digest returns the current 4-byte tag without consuming the context;
// hash.Hash.Sum never mutates state, so no clone is required here.
func (m *rollingMAC) digest() tag {
	sum := m.h.Sum(nil)
	var t tag
	copy(t[:], sum)
	return t
}

// finalizedDigest returns the tag for a one-shot verification. The
// context should not be reused afterward; callers that need further
// updates should have cloned before calling this.
func (m *rollingMAC) finalizedDigest() tag {
	return m.digest()
}
