/*
Package ntag424 is a host-side driver for the NXP NTAG 424 DNA contactless
chip: the EV2 mutual-authentication state machine, session-key derivation,
per-command secure messaging in the three communication modes, and the
application command catalog, over any transport that can transceive ISO
7816-4 short-form APDUs.

# Sessions

AuthenticateEV2First establishes a session: a two-phase challenge-response
under one of the five AES-128 key slots. The card delivers a 4-byte
transaction identifier (TI), and both sides derive the session keys

	SV1  = A5 5A 00 01 00 80 || rndA[0:2] || (rndA[2:8] XOR rndB[0:6]) || rndB[6:16] || rndA[8:16]
	SV2  = 5A A5 00 01 00 80 || (same fill)
	Kenc = AES-CMAC(key, SV1)
	Kmac = AES-CMAC(key, SV2)

A 16-bit little-endian command counter starts at zero and advances by
exactly one per successfully transceived secured command; it is bound into
every MAC input and IV block, so host and card must agree on it at all
times. AuthenticateEV2NonFirst rotates Kenc/Kmac without touching TI or
the counter.

# Communication modes

Each catalog command is wrapped in one of three modes:

	plain  raw APDU; 9100 and 91AF both count as success
	mac    payload in clear, 8-byte truncated CMAC appended; response MAC verified
	full   payload padded (ISO 9797-1 M2), CBC-encrypted under a derived IV,
	       then MACed; response decrypted and MAC verified

The wire MAC is the odd-indexed bytes of the full 16-byte CMAC. ReadData
and WriteData derive their mode from the file's settings (option byte bits
1:0), which costs an extra GetFileSettings per call.

Any failure of a command under a session — bad status word, MAC mismatch,
transport error, or counter exhaustion (refused before the APDU is sent) —
tears the session down:
the counters can no longer be trusted to match, and there is no recovery
short of re-authentication. Argument errors are caught before any I/O and
leave the session intact.

# Access rights

The per-file access rights are four nibbles, stored little-endian in file
settings bytes 2-3:

	AR1 = [ReadWrite nibble | ChangeAccessRights nibble]
	AR2 = [Read nibble      | Write nibble]

Nibble values 0x0-0x4 name a key slot, 0xE is free, 0xF is denied.

# Transport

Anything implementing Card works; Connection provides the PC/SC binding.
The driver serialises all card traffic internally, holding its lock across
each complete request/response round trip.
*/
package ntag424
