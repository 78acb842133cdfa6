package shadowtls

import "errors"

// Sentinel errors returned by this package. Transport-level failures
// (closed connections, read/write errors from the underlying net.Conn)
// are wrapped with context using %w, so callers can still use errors.Is
// against the standard io/net error values; an end of stream in the
// middle of (or before) a record is reported as io.ErrUnexpectedEOF.
var (
	ErrUnsupportedContentType = errors.New("shadowtls: unexpected TLS content type")
	ErrUnsupportedVersion     = errors.New("shadowtls: unsupported TLS record version")
	ErrMissingSessionID       = errors.New("shadowtls: client did not send a 32-byte session id")
	ErrUnsupportedTLS13       = errors.New("shadowtls: client does not support TLS1.3")
	ErrHMACMismatch           = errors.New("shadowtls: hmac tag mismatch")
	ErrHelloRetryRequest      = errors.New("shadowtls: server sent a HelloRetryRequest")
	ErrMissingSupportedVers   = errors.New("shadowtls: server did not advertise supported_versions")
	ErrFrameTooLarge          = errors.New("shadowtls: server payload too large to modify")
	ErrMultipleServerNames    = errors.New("shadowtls: multiple server_name extensions")
	ErrInvalidServerNameType  = errors.New("shadowtls: expected server name type to be hostname")
	ErrShortFrame             = errors.New("shadowtls: application data record too short to carry a tag")
)
