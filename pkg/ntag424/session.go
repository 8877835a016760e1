package ntag424

import "fmt"

// Session holds the secure-messaging state established by EV2 authentication:
// the encryption and MAC session keys, the transaction identifier, the
// command counter, and the key slot that authenticated. All fields live and
// die together; teardown zeroises the key material.
type Session struct {
	kenc   [16]byte
	kmac   [16]byte
	ti     [4]byte
	cmdCtr uint16
	slot   byte
}

// Slot returns the key slot that established the session.
func (s *Session) Slot() byte {
	return s.slot
}

// Counter returns the current command counter value.
func (s *Session) Counter() uint16 {
	return s.cmdCtr
}

// counterBytes returns the command counter little-endian, as bound into MAC
// inputs and IV blocks.
func (s *Session) counterBytes() [2]byte {
	return [2]byte{byte(s.cmdCtr & 0xFF), byte(s.cmdCtr >> 8)}
}

// checkCounter refuses a command whose successful completion would wrap the
// 16-bit counter. Behaviour past 0xFFFF is undefined by the chip.
func (s *Session) checkCounter() error {
	if s.cmdCtr == 0xFFFF {
		return fmt.Errorf("%w: command counter exhausted", ErrProtocolDesync)
	}
	return nil
}

// incrementCounter advances the counter by one. checkCounter must have
// passed for the same command, so this cannot wrap.
func (s *Session) incrementCounter() {
	s.cmdCtr++
}

// rotateKeys replaces the session keys in place, as EV2NonFirst does. TI,
// counter and slot are left as they are.
func (s *Session) rotateKeys(kenc, kmac [16]byte) {
	s.kenc = kenc
	s.kmac = kmac
}

// clear zeroises all session material.
func (s *Session) clear() {
	for i := range s.kenc {
		s.kenc[i] = 0
	}
	for i := range s.kmac {
		s.kmac[i] = 0
	}
	for i := range s.ti {
		s.ti[i] = 0
	}
	s.cmdCtr = 0
	s.slot = 0
}

// sessionVector builds one of the two 32-byte derivation inputs from the
// handshake nonces. Layout:
//
//	label(2) 00 01 00 80 || rndA[0:2] || rndA[2:8]^rndB[0:6] || rndB[6:16] || rndA[8:16]
//
// label is A5 5A for the encryption key (SV1) and 5A A5 for the MAC key (SV2).
func sessionVector(label [2]byte, rndA, rndB []byte) []byte {
	sv := make([]byte, 32)
	sv[0] = label[0]
	sv[1] = label[1]
	copy(sv[2:6], []byte{0x00, 0x01, 0x00, 0x80})
	copy(sv[6:8], rndA[:2])
	for i := 0; i < 6; i++ {
		sv[8+i] = rndA[2+i] ^ rndB[i]
	}
	copy(sv[14:24], rndB[6:16])
	copy(sv[24:32], rndA[8:16])
	return sv
}

// deriveSessionKeys computes Kenc and Kmac from the authentication key and
// the two handshake nonces via CMAC over the labelled vectors.
func deriveSessionKeys(key, rndA, rndB []byte) (kenc, kmac [16]byte, err error) {
	sv1 := sessionVector([2]byte{0xA5, 0x5A}, rndA, rndB)
	sv2 := sessionVector([2]byte{0x5A, 0xA5}, rndA, rndB)

	enc, err := aesCMAC(key, sv1)
	if err != nil {
		return kenc, kmac, err
	}
	mac, err := aesCMAC(key, sv2)
	if err != nil {
		return kenc, kmac, err
	}
	copy(kenc[:], enc)
	copy(kmac[:], mac)
	wipe(sv1)
	wipe(sv2)
	wipe(enc)
	wipe(mac)
	return kenc, kmac, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
