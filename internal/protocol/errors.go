package protocol

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidPacket is returned for an unrecognised kind tag.
	ErrInvalidPacket = errors.New("protocol: invalid packet")
	// ErrTruncated is returned when a read runs past the end of the buffer.
	ErrTruncated = fmt.Errorf("protocol: truncated packet: %w", io.ErrUnexpectedEOF)
	// ErrUnknownType is returned by Encode for Packet implementations outside this package.
	ErrUnknownType = errors.New("protocol: unknown packet type")
)

// Error codes used as metric labels and in logs.
const (
	CodeInvalidPacket = "E_INVALID_PACKET"
	CodeTruncated     = "E_TRUNCATED"
	CodeTooLarge      = "E_TOO_LARGE"
	CodeRateLimited   = "E_RATE_LIMITED"
	CodeInboxFull     = "E_INBOX_FULL"
	CodeSendFailed    = "E_SEND_FAILED"
	CodeInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeInvalidPacket: {},
	CodeTruncated:     {},
	CodeTooLarge:      {},
	CodeRateLimited:   {},
	CodeInboxFull:     {},
	CodeSendFailed:    {},
	CodeInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// DecodeErrorCode classifies an error returned by Decode.
func DecodeErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPacket):
		return CodeInvalidPacket
	case errors.Is(err, io.ErrUnexpectedEOF):
		return CodeTruncated
	default:
		return CodeInternal
	}
}
