package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrHashMismatch        = errors.New("media hash mismatch with payload.content_hash_b64")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrKeyUnknown          = errors.New("key unknown")
	ErrChainInvalid        = errors.New("certificate chain invalid")
	ErrReplayDetected      = errors.New("payload nonce already used")
	ErrPayloadExpired      = errors.New("payload timestamp outside replay window")
	ErrHardwareUnavailable = errors.New("no hardware tier could generate a key")
	ErrTierUnavailable     = errors.New("security tier unavailable")
	ErrKeyNotFound         = errors.New("key alias not found")
	ErrCaptureInFlight     = errors.New("capture already in flight for alias")
	ErrTransportFailure    = errors.New("transport failure")
	ErrInvalidManifest     = errors.New("invalid manifest")
)

// ErrorCode maps a sentinel to the stable code reported to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHashMismatch):
		return "HASH_MISMATCH"
	case errors.Is(err, ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrInvalidManifest):
		return "INVALID_MANIFEST"
	case errors.Is(err, ErrChainInvalid):
		return "CHAIN_INVALID"
	case errors.Is(err, ErrKeyUnknown):
		return "KEY_UNKNOWN"
	case errors.Is(err, ErrReplayDetected):
		return "REPLAY_DETECTED"
	case errors.Is(err, ErrPayloadExpired):
		return "PAYLOAD_EXPIRED"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
