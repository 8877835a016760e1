package ntag424

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// The wrapper engine. Every secured command runs the same fixed sequence:
// build request, transceive, check SW, advance the command counter, decrypt
// (full mode), verify the response MAC. A failed SW never advances the
// counter; a successful command advances it exactly once. Any failure after
// the APDU left the host tears the session down, because the card's counter
// can no longer be assumed to match ours.

// teardown clears and drops the session. Safe to call with no session.
func (t *Tag) teardown() {
	if t.sess != nil {
		t.sess.clear()
		t.sess = nil
	}
}

// failSecured tears down the session and passes the error through.
func (t *Tag) failSecured(err error) error {
	t.teardown()
	return err
}

// ivBlock derives a data-phase IV by ECB-encrypting the labelled TI/counter
// block under Kenc:
//
//	label(2) || TI(4) || CmdCtr_LE(2) || 00*8
//
// label is A5 5A on the command path and 5A A5 on the response path.
func (t *Tag) ivBlock(label [2]byte) ([]byte, error) {
	cc := t.sess.counterBytes()
	in := make([]byte, 16)
	in[0] = label[0]
	in[1] = label[1]
	copy(in[2:6], t.sess.ti[:])
	in[6] = cc[0]
	in[7] = cc[1]
	return aesECBEncrypt(t.sess.kenc[:], in)
}

// commandMAC computes the truncated request MAC over
// INS || CmdCtr_LE || TI || cmdHeader || data.
func (t *Tag) commandMAC(ins byte, cmdHeader, data []byte) ([]byte, error) {
	cc := t.sess.counterBytes()
	in := make([]byte, 0, 7+len(cmdHeader)+len(data))
	in = append(in, ins)
	in = append(in, cc[0], cc[1])
	in = append(in, t.sess.ti[:]...)
	in = append(in, cmdHeader...)
	in = append(in, data...)

	full, err := aesCMAC(t.sess.kmac[:], in)
	if err != nil {
		return nil, err
	}
	return truncateMAC(full), nil
}

// verifyResponseMAC checks the truncated MAC over
// SW2 || CmdCtr_LE || TI || data, where the counter has already been
// advanced for this command. The comparison is constant time.
func (t *Tag) verifyResponseMAC(sw2 byte, data, rmac []byte) error {
	cc := t.sess.counterBytes()
	in := make([]byte, 0, 7+len(data))
	in = append(in, sw2)
	in = append(in, cc[0], cc[1])
	in = append(in, t.sess.ti[:]...)
	in = append(in, data...)

	full, err := aesCMAC(t.sess.kmac[:], in)
	if err != nil {
		return err
	}
	expected := truncateMAC(full)
	if subtle.ConstantTimeCompare(expected, rmac) != 1 {
		return ErrMacMismatch
	}
	return nil
}

// cmdPlain transmits an unwrapped command. Both 9100 and 91AF count as
// success. While a session is installed the command still consumes one
// counter tick.
func (t *Tag) cmdPlain(cla, ins, p1, p2 byte, cmdHeader, cmdData []byte, le bool) ([]byte, uint16, error) {
	if t.sess != nil {
		if err := t.sess.checkCounter(); err != nil {
			return nil, 0, t.failSecured(err)
		}
	}

	body := make([]byte, 0, len(cmdHeader)+len(cmdData))
	body = append(body, cmdHeader...)
	body = append(body, cmdData...)
	apdu, err := buildAPDU(cla, ins, p1, p2, body, le)
	if err != nil {
		return nil, 0, err
	}

	data, sw, err := t.transceiveSecured(apdu)
	if err != nil {
		return nil, 0, err
	}
	if sw != SWOK && sw != SWMoreData {
		if t.sess != nil {
			t.teardown()
		}
		return nil, sw, &SWError{CLA: cla, INS: ins, SW: sw}
	}
	if t.sess != nil {
		t.sess.incrementCounter()
	}
	return data, sw, nil
}

// cmdMAC transmits a MAC-mode command: plaintext payload, 8-byte truncated
// CMAC appended. Returns the response data (which may itself be ciphertext,
// as with GetCardUID) and the verified response MAC.
func (t *Tag) cmdMAC(ins byte, cmdHeader, cmdData []byte) (data, rmac []byte, err error) {
	if t.sess == nil {
		return nil, nil, ErrNotAuthenticated
	}
	if err := t.sess.checkCounter(); err != nil {
		return nil, nil, t.failSecured(err)
	}

	mact, err := t.commandMAC(ins, cmdHeader, cmdData)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, 0, len(cmdHeader)+len(cmdData)+8)
	body = append(body, cmdHeader...)
	body = append(body, cmdData...)
	body = append(body, mact...)
	apdu, err := buildAPDU(0x90, ins, 0x00, 0x00, body, true)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("mac command",
		"ins", fmt.Sprintf("0x%02X", ins),
		"ctr", t.sess.cmdCtr,
		"apdu", strings.ToUpper(hex.EncodeToString(apdu)))

	resp, sw, err := t.transceiveSecured(apdu)
	if err != nil {
		return nil, nil, err
	}
	if sw != SWOK {
		return nil, nil, t.failSecured(&SWError{CLA: 0x90, INS: ins, SW: sw})
	}
	t.sess.incrementCounter()

	if len(resp) < 8 {
		return nil, nil, t.failSecured(fmt.Errorf("%w: secured response too short (%d bytes)", ErrProtocolDesync, len(resp)))
	}
	data = resp[:len(resp)-8]
	rmac = resp[len(resp)-8:]
	if err := t.verifyResponseMAC(byte(sw&0xFF), data, rmac); err != nil {
		return nil, nil, t.failSecured(err)
	}
	return data, rmac, nil
}

// cmdFull transmits a full-mode command: payload padded (ISO 9797-1 M2),
// encrypted under the command IV, then MACed. The response ciphertext is
// decrypted under the response IV; padding is left in place for the caller,
// who knows the command's documented length. An empty response body is
// accepted as status-only (ChangeKey on the authenticated slot replies
// without a MAC).
func (t *Tag) cmdFull(ins byte, cmdHeader, cmdData []byte) (pt, rmac []byte, err error) {
	if t.sess == nil {
		return nil, nil, ErrNotAuthenticated
	}
	if err := t.sess.checkCounter(); err != nil {
		return nil, nil, t.failSecured(err)
	}

	var encData []byte
	if len(cmdData) > 0 {
		ivc, err := t.ivBlock([2]byte{0xA5, 0x5A})
		if err != nil {
			return nil, nil, err
		}
		encData, err = aesCBCEncrypt(t.sess.kenc[:], ivc, padISO9797M2(cmdData))
		if err != nil {
			return nil, nil, err
		}
	}

	mact, err := t.commandMAC(ins, cmdHeader, encData)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, 0, len(cmdHeader)+len(encData)+8)
	body = append(body, cmdHeader...)
	body = append(body, encData...)
	body = append(body, mact...)
	apdu, err := buildAPDU(0x90, ins, 0x00, 0x00, body, true)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("full command",
		"ins", fmt.Sprintf("0x%02X", ins),
		"ctr", t.sess.cmdCtr,
		"enc_len", len(encData))

	resp, sw, err := t.transceiveSecured(apdu)
	if err != nil {
		return nil, nil, err
	}
	if sw != SWOK {
		return nil, nil, t.failSecured(&SWError{CLA: 0x90, INS: ins, SW: sw})
	}
	t.sess.incrementCounter()

	if len(resp) == 0 {
		return nil, nil, nil
	}
	if len(resp) < 8 {
		return nil, nil, t.failSecured(fmt.Errorf("%w: secured response too short (%d bytes)", ErrProtocolDesync, len(resp)))
	}
	data := resp[:len(resp)-8]
	rmac = resp[len(resp)-8:]

	if len(data) > 0 {
		if len(data)%16 != 0 {
			return nil, nil, t.failSecured(fmt.Errorf("%w: ciphertext not block aligned (%d bytes)", ErrProtocolDesync, len(data)))
		}
		ivr, err := t.ivBlock([2]byte{0x5A, 0xA5})
		if err != nil {
			return nil, nil, t.failSecured(err)
		}
		pt, err = aesCBCDecrypt(t.sess.kenc[:], ivr, data)
		if err != nil {
			return nil, nil, t.failSecured(err)
		}
	}

	// The MAC covers the wire form of the data, ciphertext included.
	if err := t.verifyResponseMAC(byte(sw&0xFF), data, rmac); err != nil {
		return nil, nil, t.failSecured(err)
	}
	return pt, rmac, nil
}

// transceiveSecured sends an APDU, tearing the session down on transport
// failure: the card may have processed the command and advanced its counter
// while we never saw the answer.
func (t *Tag) transceiveSecured(apdu []byte) ([]byte, uint16, error) {
	data, sw, err := transceive(t.card, apdu)
	if err != nil {
		t.teardown()
		return nil, 0, err
	}
	return data, sw, nil
}

// decryptResponse decrypts a response body under the response IV for
// commands that reply encrypted outside the full-mode path (GetCardUID).
// The counter must already have been advanced.
func (t *Tag) decryptResponse(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%16 != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned (%d bytes)", ErrProtocolDesync, len(ct))
	}
	ivr, err := t.ivBlock([2]byte{0x5A, 0xA5})
	if err != nil {
		return nil, err
	}
	return aesCBCDecrypt(t.sess.kenc[:], ivr, ct)
}
