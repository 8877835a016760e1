package ntag424

import (
	"errors"
	"fmt"
)

// Status word constants for NTAG 424 DNA responses.
const (
	SWOK                   = 0x9100 // operation complete
	SWMoreData             = 0x91AF // additional frame follows
	SWLengthError          = 0x917E // length error (wrong Le, bad fileNo, or format error)
	SWAuthError            = 0x91AE // authentication error (wrong key for slot)
	SWPermDenied           = 0x919D // permission denied (authenticated but insufficient rights)
	SWParameterErr         = 0x919E // parameter error (invalid settings data)
	SWBoundaryError        = 0x911C // boundary error (read past file end)
	SWNoChanges            = 0x9140 // no changes (settings already match)
	SWSecurityNotSatisfied = 0x6982 // security status not satisfied (need auth)
	SWFileNotFound         = 0x6A82 // file not found
)

// Sentinel errors for the failure kinds the driver distinguishes.
// Use errors.Is to classify.
var (
	// ErrNotAuthenticated is returned when a secured command is attempted
	// without an installed session. No state changes.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMacMismatch is returned when a response MAC fails verification.
	// The session is torn down.
	ErrMacMismatch = errors.New("response MAC mismatch")

	// ErrProtocolDesync is returned when the command counter would
	// overflow or a response violates the expected shape. The session is
	// torn down.
	ErrProtocolDesync = errors.New("protocol desync")

	// ErrInvalidArgument is returned for out-of-range offsets, lengths,
	// files, slots, or bad key sizes. Detected before any I/O; the
	// session is untouched.
	ErrInvalidArgument = errors.New("invalid argument")
)

// SWError represents a status word error from the card. It carries the
// command's CLA and INS bytes alongside the status word for diagnostics.
type SWError struct {
	CLA byte
	INS byte
	SW  uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command %02X %02X failed with SW=0x%04X (%s)", e.CLA, e.INS, e.SW, swDescription(e.SW))
}

// TransportError wraps an I/O failure from the underlying transport.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func swDescription(sw uint16) string {
	switch sw {
	case SWOK:
		return "success"
	case SWMoreData:
		return "more data expected"
	case SWLengthError:
		return "length error"
	case SWAuthError:
		return "authentication error"
	case SWPermDenied:
		return "permission denied"
	case SWParameterErr:
		return "parameter error"
	case SWBoundaryError:
		return "boundary error"
	case SWNoChanges:
		return "no changes"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWFileNotFound:
		return "file not found"
	default:
		return "unknown error"
	}
}

// IsAuthError checks if an error is an authentication-related status word error.
func IsAuthError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWAuthError || swErr.SW == SWSecurityNotSatisfied
	}
	return false
}

// IsBoundaryError checks if an error is a boundary error (read past file end).
func IsBoundaryError(err error) bool {
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWBoundaryError
	}
	return false
}
