package ntag424

import (
	"bytes"
	"errors"
	"testing"
)

// ev2Card simulates the card side of the EV2 handshake.
type ev2Card struct {
	t    *testing.T
	key  []byte
	rndB []byte
	ti   []byte

	rejectProof bool // return 91AE on phase 2
	nonFirst    bool // last challenge was INS 0x77
	rndA        []byte
	sent        [][]byte
}

func (c *ev2Card) Transmit(apdu []byte) ([]byte, error) {
	cp := make([]byte, len(apdu))
	copy(cp, apdu)
	c.sent = append(c.sent, cp)

	iv0 := make([]byte, 16)
	switch apdu[1] {
	case 0x71, 0x77:
		want := []byte{0x90, apdu[1], 0x00, 0x00, 0x05, apdu[5], 0x03, 0x00, 0x00, 0x00, 0x00}
		if !bytes.Equal(apdu, want) {
			c.t.Fatalf("challenge APDU = %X, want %X", apdu, want)
		}
		c.nonFirst = apdu[1] == 0x77
		ct, err := aesCBCEncrypt(c.key, iv0, c.rndB)
		if err != nil {
			c.t.Fatalf("card-side encrypt: %v", err)
		}
		return append(ct, 0x91, 0xAF), nil

	case 0xAF:
		if len(apdu) != 4+1+32+1 || apdu[4] != 0x20 {
			c.t.Fatalf("proof APDU shape %X", apdu)
		}
		dec, err := aesCBCDecrypt(c.key, iv0, apdu[5:37])
		if err != nil {
			c.t.Fatalf("card-side decrypt: %v", err)
		}
		if !bytes.Equal(dec[16:32], rotateLeft1(c.rndB)) {
			return []byte{0x91, 0xAE}, nil
		}
		if c.rejectProof {
			return []byte{0x91, 0xAE}, nil
		}
		c.rndA = append([]byte{}, dec[:16]...)

		if c.nonFirst {
			ct, err := aesCBCEncrypt(c.key, iv0, rotateLeft1(c.rndA))
			if err != nil {
				c.t.Fatalf("card-side encrypt: %v", err)
			}
			return append(ct, 0x91, 0x00), nil
		}
		pt := make([]byte, 0, 32)
		pt = append(pt, c.ti...)
		pt = append(pt, rotateLeft1(c.rndA)...)
		pt = append(pt, make([]byte, 12)...) // PDCap || PCDCap
		ct, err := aesCBCEncrypt(c.key, iv0, pt)
		if err != nil {
			c.t.Fatalf("card-side encrypt: %v", err)
		}
		return append(ct, 0x91, 0x00), nil

	default:
		c.t.Fatalf("unexpected INS %02X", apdu[1])
		return nil, nil
	}
}

func newEV2Card(t *testing.T) *ev2Card {
	return &ev2Card{
		t:    t,
		key:  make([]byte, 16),
		rndB: mustHex(t, testRndBHex),
		ti:   []byte{0x7A, 0x21, 0x08, 0x5E},
	}
}

func TestAuthenticateEV2FirstInstallsSession(t *testing.T) {
	card := newEV2Card(t)
	tag := New(card)

	if err := tag.AuthenticateEV2First(0, card.key); err != nil {
		t.Fatalf("AuthenticateEV2First: %v", err)
	}
	if !tag.Authenticated() {
		t.Fatalf("no session after successful auth")
	}
	if !bytes.Equal(tag.sess.ti[:], card.ti) {
		t.Fatalf("TI = %X, want %X", tag.sess.ti, card.ti)
	}
	if tag.sess.cmdCtr != 0 {
		t.Fatalf("counter = %d, want 0", tag.sess.cmdCtr)
	}
	if tag.sess.slot != 0 {
		t.Fatalf("slot = %d, want 0", tag.sess.slot)
	}

	// Both sides must agree on the derived keys.
	kenc, kmac, err := deriveSessionKeys(card.key, card.rndA, card.rndB)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if tag.sess.kenc != kenc || tag.sess.kmac != kmac {
		t.Fatalf("session keys do not match card-side derivation")
	}
}

func TestAuthenticateEV2FirstRejectionLeavesNoSession(t *testing.T) {
	card := newEV2Card(t)
	card.rejectProof = true
	tag := New(card)

	err := tag.AuthenticateEV2First(0, card.key)
	if err == nil {
		t.Fatalf("expected auth failure")
	}
	step, sw, _, ok := ClassifyAuthError(err)
	if !ok || step != "step2" || sw != SWAuthError {
		t.Fatalf("err = %v, want step2 AuthError with SW=91AE", err)
	}
	if tag.Authenticated() {
		t.Fatalf("failed auth must leave no session")
	}
}

func TestAuthenticateEV2FirstDiscardsExistingSession(t *testing.T) {
	card := newEV2Card(t)
	card.rejectProof = true
	tag := New(card)
	tag.sess = &Session{cmdCtr: 9, slot: 2}

	if err := tag.AuthenticateEV2First(0, card.key); err == nil {
		t.Fatalf("expected auth failure")
	}
	if tag.Authenticated() {
		t.Fatalf("stale session must not survive a failed re-authentication")
	}
}

func TestAuthenticateEV2FirstWrongKeyRejectedByCard(t *testing.T) {
	card := newEV2Card(t)
	tag := New(card)

	wrongKey := bytes.Repeat([]byte{0x13}, 16)
	err := tag.AuthenticateEV2First(0, wrongKey)
	if err == nil {
		t.Fatalf("expected auth failure with mismatched key")
	}
	if tag.Authenticated() {
		t.Fatalf("failed auth must leave no session")
	}
}

func TestAuthenticateEV2NonFirstRotatesKeysOnly(t *testing.T) {
	card := newEV2Card(t)
	tag := New(card)

	if err := tag.AuthenticateEV2First(0, card.key); err != nil {
		t.Fatalf("first auth: %v", err)
	}
	oldEnc := tag.sess.kenc
	oldTI := tag.sess.ti
	tag.sess.cmdCtr = 7 // pretend traffic happened

	if err := tag.AuthenticateEV2NonFirst(0, card.key); err != nil {
		t.Fatalf("AuthenticateEV2NonFirst: %v", err)
	}
	if tag.sess.ti != oldTI {
		t.Fatalf("TI must persist across NonFirst")
	}
	if tag.sess.cmdCtr != 7 {
		t.Fatalf("counter = %d, want 7 (NonFirst must not reset it)", tag.sess.cmdCtr)
	}
	if tag.sess.kenc == oldEnc {
		t.Fatalf("session keys must rotate")
	}

	kenc, kmac, err := deriveSessionKeys(card.key, card.rndA, card.rndB)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if tag.sess.kenc != kenc || tag.sess.kmac != kmac {
		t.Fatalf("rotated keys do not match card-side derivation")
	}
}

func TestAuthenticateEV2NonFirstRequiresSession(t *testing.T) {
	card := newEV2Card(t)
	tag := New(card)

	err := tag.AuthenticateEV2NonFirst(0, card.key)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if len(card.sent) != 0 {
		t.Fatalf("NonFirst without a session must not reach the wire")
	}
}

func TestAuthenticateEV2NonFirstFailureTearsDown(t *testing.T) {
	card := newEV2Card(t)
	tag := New(card)
	if err := tag.AuthenticateEV2First(0, card.key); err != nil {
		t.Fatalf("first auth: %v", err)
	}

	card.rejectProof = true
	if err := tag.AuthenticateEV2NonFirst(0, card.key); err == nil {
		t.Fatalf("expected NonFirst failure")
	}
	if tag.Authenticated() {
		t.Fatalf("failed NonFirst must tear the session down")
	}
}

func TestAuthenticateArgumentValidation(t *testing.T) {
	tag := New(&ev2Card{t: t})
	if err := tag.AuthenticateEV2First(5, make([]byte, 16)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("slot 5: %v, want ErrInvalidArgument", err)
	}
	if err := tag.AuthenticateEV2First(0, make([]byte, 8)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("short key: %v, want ErrInvalidArgument", err)
	}
}
