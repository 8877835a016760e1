package ntag424

import (
	"bytes"
	"encoding/hex"
	"hash/crc32"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestAESCMACRFC4493Vectors(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	cases := []struct {
		name string
		msg  string
		want string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
		{"40 bytes", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411", "dfa66747de9ae63030ca32611497c827"},
		{"64 bytes", "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e5130c81c46a35ce411e5fbc1191a0a52eff69f2445df4f9b17ad2b417be66c3710", "51f0bebf7e3b9d92fc49741779363cfe"},
	}
	for _, tc := range cases {
		mac, err := aesCMAC(key, mustHex(t, tc.msg))
		if err != nil {
			t.Fatalf("%s: aesCMAC returned error: %v", tc.name, err)
		}
		if !bytes.Equal(mac, mustHex(t, tc.want)) {
			t.Fatalf("%s: got %X, want %s", tc.name, mac, tc.want)
		}
	}
}

func TestTruncateMACTakesOddIndexedBytes(t *testing.T) {
	full := make([]byte, 16)
	for i := range full {
		full[i] = byte(i)
	}
	got := truncateMAC(full)
	want := []byte{1, 3, 5, 7, 9, 11, 13, 15}
	if !bytes.Equal(got, want) {
		t.Fatalf("truncateMAC = %v, want %v", got, want)
	}
}

func TestPadISO9797M2Law(t *testing.T) {
	for _, n := range []int{0, 1, 7, 15, 16, 17, 31, 32, 100} {
		msg := make([]byte, n)
		for i := range msg {
			msg[i] = 0xAA
		}
		padded := padISO9797M2(msg)
		if len(padded)%16 != 0 {
			t.Fatalf("len %d: padded length %d not a multiple of 16", n, len(padded))
		}
		if len(padded) <= n {
			t.Fatalf("len %d: padding must always add bytes, got %d", n, len(padded))
		}
		if padded[n] != 0x80 {
			t.Fatalf("len %d: marker byte is %02X, want 80", n, padded[n])
		}
		for _, b := range padded[n+1:] {
			if b != 0x00 {
				t.Fatalf("len %d: nonzero fill byte %02X", n, b)
			}
		}
		unpadded, err := unpadISO9797M2(padded)
		if err != nil {
			t.Fatalf("len %d: unpad failed: %v", n, err)
		}
		if !bytes.Equal(unpadded, msg) {
			t.Fatalf("len %d: unpad round trip mismatch", n)
		}
	}
}

func TestCRC32JamIsComplementOfIEEE(t *testing.T) {
	inputs := [][]byte{
		make([]byte, 16),
		bytes.Repeat([]byte{0x01}, 16),
		[]byte("123456789"),
		{0xDE, 0xAD, 0xBE, 0xEF},
		{},
	}
	for _, in := range inputs {
		jam := crc32JamBytes(in)
		ieee := crc32.ChecksumIEEE(in)
		want := []byte{
			^byte(ieee),
			^byte(ieee >> 8),
			^byte(ieee >> 16),
			^byte(ieee >> 24),
		}
		if !bytes.Equal(jam, want) {
			t.Fatalf("input %X: jam %X, want complemented LE %X", in, jam, want)
		}
	}
}

func TestCRC32JamKnownValues(t *testing.T) {
	// The check value for the JAMCRC variant: ~CRC32("123456789").
	if got := crc32Jam([]byte("123456789")); got != 0x340BC6D9 {
		t.Fatalf("crc32Jam(check string) = %08X, want 340BC6D9", got)
	}
	// All-zero 16-byte key, the ChangeKey CRC of a factory-default key.
	if got := crc32JamBytes(make([]byte, 16)); !bytes.Equal(got, []byte{0xAA, 0xB4, 0x44, 0x13}) {
		t.Fatalf("crc32JamBytes(zero key) = %X, want AAB44413", got)
	}
}

func TestRotateByOneByte(t *testing.T) {
	in := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	left := rotateLeft1(in)
	if !bytes.Equal(left, mustHex(t, "0102030405060708090a0b0c0d0e0f00")) {
		t.Fatalf("rotateLeft1 = %X", left)
	}
	if !bytes.Equal(rotateRight1(left), in) {
		t.Fatalf("rotateRight1 does not invert rotateLeft1")
	}
}

func TestExtractBits(t *testing.T) {
	cases := []struct {
		b      byte
		lo, hi uint
		want   byte
	}{
		{0xFF, 0, 1, 0x03},
		{0x03, 0, 1, 0x03},
		{0x02, 0, 1, 0x02},
		{0x40, 6, 6, 0x01},
		{0xE3, 4, 7, 0x0E},
		{0x00, 0, 7, 0x00},
	}
	for _, tc := range cases {
		if got := extractBits(tc.b, tc.lo, tc.hi); got != tc.want {
			t.Fatalf("extractBits(%02X, %d, %d) = %02X, want %02X", tc.b, tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestCBCRoundTripPreservesPaddedMessage(t *testing.T) {
	kenc := mustHex(t, "00112233445566778899aabbccddeeff")
	iv, err := aesECBEncrypt(kenc, mustHex(t, "5aa51122334401000000000000000000"))
	if err != nil {
		t.Fatalf("iv derivation: %v", err)
	}
	for _, n := range []int{0, 1, 16, 21, 48} {
		msg := bytes.Repeat([]byte{0x5C}, n)
		padded := padISO9797M2(msg)
		ct, err := aesCBCEncrypt(kenc, iv, padded)
		if err != nil {
			t.Fatalf("len %d: encrypt: %v", n, err)
		}
		if len(ct) != len(padded) {
			t.Fatalf("len %d: ciphertext length %d != plaintext length %d", n, len(ct), len(padded))
		}
		pt, err := aesCBCDecrypt(kenc, iv, ct)
		if err != nil {
			t.Fatalf("len %d: decrypt: %v", n, err)
		}
		if !bytes.Equal(pt, padded) {
			t.Fatalf("len %d: round trip mismatch", n)
		}
	}
}
