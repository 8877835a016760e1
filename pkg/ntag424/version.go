package ntag424

import "fmt"

// TagVersion holds the hardware and software version information from
// GetVersion.
type TagVersion struct {
	HWVendorID    byte
	HWType        byte
	HWSubType     byte
	HWMajorVer    byte
	HWMinorVer    byte
	HWStorageSize byte
	HWProtocol    byte
	SWVendorID    byte
	SWType        byte
	SWSubType     byte
	SWMajorVer    byte
	SWMinorVer    byte
	SWStorageSize byte
	SWProtocol    byte
	UID           []byte // 7-byte UID
	BatchNo       []byte // 5-byte batch number
	FabKey        byte
	ProdYear      byte // BCD
	ProdWeek      byte
}

// GetVersion retrieves the tag version information (INS 0x60), a three-part
// chained exchange at PICC level. Runs outside any session; typically used
// before authenticating to identify the tag.
func (t *Tag) GetVersion() (*TagVersion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := make([][]byte, 0, 3)
	apdu := []byte{0x90, 0x60, 0x00, 0x00, 0x00}
	for i := 0; i < 3; i++ {
		data, sw, err := transceive(t.card, apdu)
		if err != nil {
			return nil, err
		}
		wantSW := uint16(SWMoreData)
		if i == 2 {
			wantSW = SWOK
		}
		if sw != wantSW {
			return nil, &SWError{CLA: 0x90, INS: apdu[1], SW: sw}
		}
		frames = append(frames, data)
		apdu = []byte{0x90, 0xAF, 0x00, 0x00, 0x00}
	}
	if len(frames[0]) != 7 || len(frames[1]) != 7 || len(frames[2]) != 14 {
		return nil, fmt.Errorf("%w: GetVersion frame lengths %d/%d/%d",
			ErrProtocolDesync, len(frames[0]), len(frames[1]), len(frames[2]))
	}

	hw, sw, prod := frames[0], frames[1], frames[2]
	v := &TagVersion{
		HWVendorID:    hw[0],
		HWType:        hw[1],
		HWSubType:     hw[2],
		HWMajorVer:    hw[3],
		HWMinorVer:    hw[4],
		HWStorageSize: hw[5],
		HWProtocol:    hw[6],
		SWVendorID:    sw[0],
		SWType:        sw[1],
		SWSubType:     sw[2],
		SWMajorVer:    sw[3],
		SWMinorVer:    sw[4],
		SWStorageSize: sw[5],
		SWProtocol:    sw[6],
		UID:           prod[0:7],
		BatchNo:       prod[7:12],
		FabKey:        prod[12],
		ProdYear:      prod[13] >> 4,
		ProdWeek:      prod[13] & 0x0F,
	}
	return v, nil
}
