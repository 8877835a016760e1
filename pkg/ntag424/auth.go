package ntag424

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// AuthError represents an authentication failure at a specific step.
type AuthError struct {
	Step    string // "step1" or "step2"
	SW      uint16 // status word (if applicable)
	RespLen int    // response length (if applicable)
	Cause   error  // underlying error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("auth %s failed (SW=%04X len=%d)", e.Step, e.SW, e.RespLen)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyAuthError extracts details from an AuthError.
func ClassifyAuthError(err error) (step string, sw uint16, respLen int, ok bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Step, authErr.SW, authErr.RespLen, true
	}
	return "", 0, 0, false
}

// AuthenticateEV2First performs the two-phase EV2First handshake (INS 0x71)
// against the given key slot. On success it installs a fresh session: new
// TI, counter zero, Kenc/Kmac derived from the exchanged nonces. Callable
// from any state; any prior session is discarded first, and any failure
// leaves the driver unauthenticated.
//
// Environment variable NTAG_RNDA (32 hex chars) overrides RndA generation
// for deterministic testing against a simulated card.
func (t *Tag) AuthenticateEV2First(slot byte, key []byte) error {
	if err := checkAuthArgs(slot, key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardown()

	rndB, err := t.authChallenge(0x71, slot, key)
	if err != nil {
		return err
	}
	rndA, err := generateRndA()
	if err != nil {
		return &AuthError{Step: "step1", Cause: err}
	}

	resp, err := t.authProve(key, rndA, rndB)
	if err != nil {
		return err
	}
	if len(resp) != 32 {
		return &AuthError{Step: "step2", SW: SWOK, RespLen: len(resp)}
	}
	dec, err := aesCBCDecrypt(key, make([]byte, 16), resp)
	if err != nil {
		return &AuthError{Step: "step2", Cause: err}
	}

	// Plaintext: TI(4) || RndA'(16) || PDCap(6) || PCDCap(6).
	ti := dec[:4]
	if !bytes.Equal(rotateRight1(dec[4:20]), rndA) {
		return &AuthError{Step: "step2", Cause: errors.New("rndA check failed")}
	}

	kenc, kmac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		return &AuthError{Step: "step2", Cause: err}
	}

	s := &Session{slot: slot}
	copy(s.ti[:], ti)
	s.kenc = kenc
	s.kmac = kmac
	s.cmdCtr = 0
	t.sess = s

	slog.Debug("session installed",
		"slot", slot,
		"ti", strings.ToUpper(hex.EncodeToString(ti)))

	wipe(rndA)
	wipe(rndB)
	wipe(dec)
	return nil
}

// AuthenticateEV2NonFirst rotates the session keys without disturbing TI or
// the command counter (INS 0x77). Requires an installed session. On success
// Kenc and Kmac are replaced by keys derived under the given slot's key and
// the session records that slot; failure tears the session down.
func (t *Tag) AuthenticateEV2NonFirst(slot byte, key []byte) error {
	if err := checkAuthArgs(slot, key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return ErrNotAuthenticated
	}

	rndB, err := t.authChallenge(0x77, slot, key)
	if err != nil {
		t.teardown()
		return err
	}
	rndA, err := generateRndA()
	if err != nil {
		t.teardown()
		return &AuthError{Step: "step1", Cause: err}
	}

	resp, err := t.authProve(key, rndA, rndB)
	if err != nil {
		t.teardown()
		return err
	}
	if len(resp) != 16 {
		t.teardown()
		return &AuthError{Step: "step2", SW: SWOK, RespLen: len(resp)}
	}
	dec, err := aesCBCDecrypt(key, make([]byte, 16), resp)
	if err != nil {
		t.teardown()
		return &AuthError{Step: "step2", Cause: err}
	}
	if !bytes.Equal(rotateRight1(dec), rndA) {
		t.teardown()
		return &AuthError{Step: "step2", Cause: errors.New("rndA check failed")}
	}

	kenc, kmac, err := deriveSessionKeys(key, rndA, rndB)
	if err != nil {
		t.teardown()
		return &AuthError{Step: "step2", Cause: err}
	}
	t.sess.rotateKeys(kenc, kmac)
	t.sess.slot = slot

	slog.Debug("session keys rotated", "slot", slot, "ctr", t.sess.cmdCtr)

	wipe(rndA)
	wipe(rndB)
	wipe(dec)
	return nil
}

func checkAuthArgs(slot byte, key []byte) error {
	if slot > 4 {
		return fmt.Errorf("%w: key slot %d out of range", ErrInvalidArgument, slot)
	}
	if len(key) != 16 {
		return fmt.Errorf("%w: key must be 16 bytes, got %d", ErrInvalidArgument, len(key))
	}
	return nil
}

// authChallenge sends phase 1 and returns the decrypted card nonce RndB.
// The handshake bypasses the wrapper: it is not a secured command and must
// not touch the command counter.
func (t *Tag) authChallenge(ins byte, slot byte, key []byte) ([]byte, error) {
	apdu := []byte{0x90, ins, 0x00, 0x00, 0x05, slot, 0x03, 0x00, 0x00, 0x00, 0x00}
	data, sw, err := transceive(t.card, apdu)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}
	if sw != SWMoreData || len(data) != 16 {
		return nil, &AuthError{Step: "step1", SW: sw, RespLen: len(data)}
	}
	rndB, err := aesCBCDecrypt(key, make([]byte, 16), data)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}
	return rndB, nil
}

// authProve sends phase 2, E(RndA || RotateLeft(RndB)), and returns the raw
// response ciphertext.
func (t *Tag) authProve(key, rndA, rndB []byte) ([]byte, error) {
	rndAB := make([]byte, 0, 32)
	rndAB = append(rndAB, rndA...)
	rndAB = append(rndAB, rotateLeft1(rndB)...)
	ct, err := aesCBCEncrypt(key, make([]byte, 16), rndAB)
	wipe(rndAB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	apdu, err := buildAPDU(0x90, 0xAF, 0x00, 0x00, ct, true)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	data, sw, err := transceive(t.card, apdu)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	if sw != SWOK {
		return nil, &AuthError{Step: "step2", SW: sw, RespLen: len(data)}
	}
	return data, nil
}

// generateRndA produces the 16-byte host nonce, honouring the NTAG_RNDA
// override for deterministic testing.
func generateRndA() ([]byte, error) {
	rndA := make([]byte, 16)
	if rndAHex := os.Getenv("NTAG_RNDA"); len(rndAHex) == 32 {
		if b, err := hex.DecodeString(rndAHex); err == nil && len(b) == 16 {
			copy(rndA, b)
			return rndA, nil
		}
	}
	if _, err := io.ReadFull(rand.Reader, rndA); err != nil {
		return nil, err
	}
	return rndA, nil
}
