package ntag424

import "fmt"

// Card abstracts card transmit behavior for real PC/SC cards and test doubles.
// Transmit sends a complete APDU and returns the response including the
// trailing two status word bytes.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// buildAPDU assembles a short-form ISO 7816 APDU from a 4-byte header, an
// optional body, and an optional Le=0x00 trailer. Lc is emitted only when the
// body is non-empty.
func buildAPDU(cla, ins, p1, p2 byte, body []byte, le bool) ([]byte, error) {
	if len(body) > 255 {
		return nil, fmt.Errorf("%w: APDU body %d bytes exceeds short-form limit", ErrInvalidArgument, len(body))
	}
	apdu := make([]byte, 0, 4+1+len(body)+1)
	apdu = append(apdu, cla, ins, p1, p2)
	if len(body) > 0 {
		apdu = append(apdu, byte(len(body)))
		apdu = append(apdu, body...)
	}
	if le {
		apdu = append(apdu, 0x00)
	}
	return apdu, nil
}

// transceive sends an APDU to the card and splits off the status word.
// Returns (response_data, status_word, error). Transport failures are wrapped
// in TransportError; a response shorter than the 2-byte SW is a desync.
func transceive(card Card, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, 0, &TransportError{Cause: err}
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("%w: short response (%d bytes)", ErrProtocolDesync, len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}
