package ntag424

import (
	"fmt"
	"sync"
)

// Tag is the host-side driver for a single NTAG 424 DNA. It owns the
// secure-messaging session exclusively; every operation holds the mutex for
// the whole request/response round trip, so secured commands observe a
// strictly monotonic command counter.
type Tag struct {
	mu   sync.Mutex
	card Card
	sess *Session
}

// New binds the driver to a transport. The transport is used by exactly one
// Tag at a time.
func New(card Card) *Tag {
	return &Tag{card: card}
}

// Terminate clears the session, zeroising its key material. The transport is
// left to its owner to release.
func (t *Tag) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardown()
}

// Authenticated reports whether a session is installed.
func (t *Tag) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil
}

// SelectFile selects the master DF, the NTAG 424 DNA application, or one of
// its data files. Selecting a data file implicitly selects the application
// first.
//
// Selecting invalidates nothing on the host side, but note the card drops
// its authentication state on reselection; authenticate after selecting.
func (t *Tag) SelectFile(f FileID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := f.isoID()
	if !ok {
		return fmt.Errorf("%w: unknown file %v", ErrInvalidArgument, f)
	}
	if f == FileCC || f == FileNDEF || f == FileProprietary {
		appID, _ := FileApplication.isoID()
		if err := t.selectISO(appID); err != nil {
			return err
		}
	}
	return t.selectISO(id)
}

func (t *Tag) selectISO(fileID uint16) error {
	_, _, err := t.cmdPlain(0x00, 0xA4, 0x00, 0x0C, nil, []byte{byte(fileID >> 8), byte(fileID)}, true)
	return err
}

// GetCardUID retrieves the 7-byte UID (INS 0x51). The request is MAC mode,
// but the card replies encrypted under the session keys regardless.
func (t *Tag) GetCardUID() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ct, _, err := t.cmdMAC(0x51, nil, nil)
	if err != nil {
		return nil, err
	}
	if len(ct) != 16 {
		return nil, t.failSecured(fmt.Errorf("%w: GetCardUID response body %d bytes, want 16", ErrProtocolDesync, len(ct)))
	}
	pt, err := t.decryptResponse(ct)
	if err != nil {
		return nil, t.failSecured(err)
	}
	uid := make([]byte, 7)
	copy(uid, pt[:7])
	return uid, nil
}

// GetFileSettings retrieves and parses a data file's settings (INS 0xF5,
// MAC mode).
func (t *Tag) GetFileSettings(f FileID) (*FileSettings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	no, ok := f.fileNo()
	if !ok {
		return nil, fmt.Errorf("%w: %v has no file number", ErrInvalidArgument, f)
	}
	return t.getFileSettingsLocked(no)
}

func (t *Tag) getFileSettingsLocked(fileNo byte) (*FileSettings, error) {
	data, _, err := t.cmdMAC(0xF5, []byte{fileNo}, nil)
	if err != nil {
		return nil, err
	}
	fs, err := parseFileSettings(data)
	if err != nil {
		return nil, t.failSecured(err)
	}
	return fs, nil
}

// ChangeFileSettings writes a data file's settings bytes (INS 0x5F, full
// mode). The caller supplies the raw settings payload: option byte, access
// rights, and any trailing fields.
func (t *Tag) ChangeFileSettings(f FileID, settings []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	no, ok := f.fileNo()
	if !ok {
		return fmt.Errorf("%w: %v has no file number", ErrInvalidArgument, f)
	}
	if len(settings) == 0 {
		return fmt.Errorf("%w: empty settings", ErrInvalidArgument)
	}
	_, _, err := t.cmdFull(0x5F, []byte{no}, settings)
	return err
}

// ReadData reads length bytes at offset from a data file (INS 0xAD). The
// communication mode is derived from the file's settings, so each call
// issues a GetFileSettings first; both commands consume a counter tick.
func (t *Tag) ReadData(f FileID, offset, length byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	no, ok := f.fileNo()
	if !ok {
		return nil, fmt.Errorf("%w: %v has no file number", ErrInvalidArgument, f)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: zero-length read", ErrInvalidArgument)
	}
	if int(offset)+int(length) > f.maxSize() {
		return nil, fmt.Errorf("%w: read %d+%d exceeds %v size %d", ErrInvalidArgument, offset, length, f, f.maxSize())
	}

	fs, err := t.getFileSettingsLocked(no)
	if err != nil {
		return nil, err
	}
	header := dataCommandHeader(no, offset, length)

	switch fs.CommMode() {
	case CommMAC:
		data, _, err := t.cmdMAC(0xAD, header, nil)
		return data, err
	case CommFull:
		pt, _, err := t.cmdFull(0xAD, header, nil)
		if err != nil {
			return nil, err
		}
		if len(pt) < int(length) {
			return nil, t.failSecured(fmt.Errorf("%w: ReadData returned %d bytes, want %d", ErrProtocolDesync, len(pt), length))
		}
		return pt[:length], nil
	default:
		data, _, err := t.cmdPlain(0x90, 0xAD, 0x00, 0x00, header, nil, true)
		return data, err
	}
}

// WriteData writes data to a data file at offset (INS 0x8D). The payload is
// zero-extended to the file's per-command write capacity before wrapping, so
// a write always covers everything from offset up to that capacity (for the
// NDEF file, up to byte 248 of 256). Mode derivation issues a
// GetFileSettings first, as with ReadData.
func (t *Tag) WriteData(f FileID, data []byte, offset byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	no, ok := f.fileNo()
	if !ok {
		return fmt.Errorf("%w: %v has no file number", ErrInvalidArgument, f)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty write", ErrInvalidArgument)
	}
	capacity := f.writeCap()
	if int(offset)+len(data) > capacity {
		return fmt.Errorf("%w: write %d+%d exceeds %v capacity %d", ErrInvalidArgument, offset, len(data), f, capacity)
	}

	payload := make([]byte, capacity-int(offset))
	copy(payload, data)

	fs, err := t.getFileSettingsLocked(no)
	if err != nil {
		return err
	}
	header := dataCommandHeader(no, offset, byte(len(payload)))

	switch fs.CommMode() {
	case CommMAC:
		_, _, err := t.cmdMAC(0x8D, header, payload)
		return err
	case CommFull:
		_, _, err := t.cmdFull(0x8D, header, payload)
		return err
	default:
		_, _, err := t.cmdPlain(0x90, 0x8D, 0x00, 0x00, header, payload, true)
		return err
	}
}

// dataCommandHeader builds the 7-byte ReadData/WriteData command header.
// Offsets and lengths are 3-byte LE on the wire but never exceed one byte
// on this chip's files.
func dataCommandHeader(fileNo, offset, length byte) []byte {
	return []byte{fileNo, offset, 0x00, 0x00, length, 0x00, 0x00}
}

// GetKeyVersion reads a key slot's one-byte version (INS 0x64, MAC mode).
func (t *Tag) GetKeyVersion(slot byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot > 4 {
		return 0, fmt.Errorf("%w: key slot %d out of range", ErrInvalidArgument, slot)
	}
	return t.getKeyVersionLocked(slot)
}

func (t *Tag) getKeyVersionLocked(slot byte) (byte, error) {
	data, _, err := t.cmdMAC(0x64, []byte{slot}, nil)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, t.failSecured(fmt.Errorf("%w: empty GetKeyVersion response", ErrProtocolDesync))
	}
	return data[0], nil
}

// ChangeMasterKey rotates key slot 0 (INS 0xC4, full mode). Requires a
// slot-0 session. The card replies status-only and invalidates the session;
// the caller must re-authenticate with the new key.
func (t *Tag) ChangeMasterKey(newKey []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(newKey) != 16 {
		return fmt.Errorf("%w: key must be 16 bytes, got %d", ErrInvalidArgument, len(newKey))
	}
	if t.sess == nil {
		return ErrNotAuthenticated
	}
	if t.sess.slot != 0 {
		return fmt.Errorf("%w: master key change requires a slot 0 session", ErrNotAuthenticated)
	}

	version, err := t.getKeyVersionLocked(0)
	if err != nil {
		return err
	}

	keyData := make([]byte, 0, 17)
	keyData = append(keyData, newKey...)
	keyData = append(keyData, version+1)
	if _, _, err := t.cmdFull(0xC4, []byte{0x00}, keyData); err != nil {
		return err
	}
	// The old session keys no longer match the card's state.
	t.teardown()
	return nil
}

// ChangeApplicationKey rotates one of slots 1..4 (INS 0xC4, full mode).
// Requires a slot-0 session. The command data is the old/new key XOR, the
// slot's current version, and the JAMCRC of the new key.
func (t *Tag) ChangeApplicationKey(slot byte, oldKey, newKey []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot < 1 || slot > 4 {
		return fmt.Errorf("%w: application key slot %d out of range 1..4", ErrInvalidArgument, slot)
	}
	if len(oldKey) != 16 || len(newKey) != 16 {
		return fmt.Errorf("%w: keys must be 16 bytes", ErrInvalidArgument)
	}
	if t.sess == nil {
		return ErrNotAuthenticated
	}
	if t.sess.slot != 0 {
		return fmt.Errorf("%w: application key change requires a slot 0 session", ErrNotAuthenticated)
	}

	version, err := t.getKeyVersionLocked(slot)
	if err != nil {
		return err
	}

	keyData := make([]byte, 0, 21)
	for i := 0; i < 16; i++ {
		keyData = append(keyData, oldKey[i]^newKey[i])
	}
	keyData = append(keyData, version)
	keyData = append(keyData, crc32JamBytes(newKey)...)

	_, _, err = t.cmdFull(0xC4, []byte{slot}, keyData)
	return err
}
