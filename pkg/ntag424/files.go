package ntag424

import "fmt"

// FileID identifies a selectable target on the tag: the master DF, the
// NTAG 424 DNA application, or one of its three data files.
type FileID byte

const (
	FileMaster      FileID = iota // DF 3F00
	FileApplication               // application DF, ISO ID E110
	FileCC                        // capability container, file no 1, ISO ID E103
	FileNDEF                      // NDEF file, file no 2, ISO ID E104
	FileProprietary               // proprietary file, file no 3, ISO ID E105
)

func (f FileID) String() string {
	switch f {
	case FileMaster:
		return "master"
	case FileApplication:
		return "application"
	case FileCC:
		return "cc"
	case FileNDEF:
		return "ndef"
	case FileProprietary:
		return "proprietary"
	default:
		return fmt.Sprintf("file(%d)", byte(f))
	}
}

// isoID returns the 16-bit ISO file identifier used with SELECT FILE.
func (f FileID) isoID() (uint16, bool) {
	switch f {
	case FileMaster:
		return 0x3F00, true
	case FileApplication:
		return 0xE110, true
	case FileCC:
		return 0xE103, true
	case FileNDEF:
		return 0xE104, true
	case FileProprietary:
		return 0xE105, true
	default:
		return 0, false
	}
}

// fileNo returns the DESFire file number used by data commands. Only the
// three data files have one.
func (f FileID) fileNo() (byte, bool) {
	switch f {
	case FileCC:
		return 0x01, true
	case FileNDEF:
		return 0x02, true
	case FileProprietary:
		return 0x03, true
	default:
		return 0, false
	}
}

// maxSize returns the file capacity in bytes.
func (f FileID) maxSize() int {
	switch f {
	case FileCC:
		return 32
	case FileNDEF:
		return 256
	case FileProprietary:
		return 128
	default:
		return 0
	}
}

// writeCap returns the largest payload a single WriteData command may carry.
// The NDEF file accepts at most 248 bytes per command despite its 256-byte
// capacity.
func (f FileID) writeCap() int {
	if f == FileNDEF {
		return 248
	}
	return f.maxSize()
}

// CommMode is the security level a command is wrapped with.
type CommMode int

const (
	CommPlain CommMode = iota
	CommMAC
	CommFull
)

func (m CommMode) String() string {
	switch m {
	case CommPlain:
		return "plain"
	case CommMAC:
		return "mac"
	case CommFull:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// commModeFromFileOption derives the communication mode from bits 0..1 of
// the file-settings option byte. Pattern 2 is unspecified by the datasheet
// and is treated as plain.
func commModeFromFileOption(option byte) CommMode {
	switch extractBits(option, 0, 1) {
	case 1:
		return CommMAC
	case 3:
		return CommFull
	default:
		return CommPlain
	}
}

// FileSettings is the parsed prefix of a GetFileSettings response.
type FileSettings struct {
	FileType   byte   // 0x00 = standard data file
	FileOption byte   // bits 1:0 = comm mode
	AR1        byte   // [ReadWrite nibble | ChangeAccessRights nibble]
	AR2        byte   // [Read nibble | Write nibble]
	Size       int    // file size in bytes (3-byte LE)
	Raw        []byte // complete response body
}

// CommMode returns the file's communication mode for read/write operations.
func (fs *FileSettings) CommMode() CommMode {
	return commModeFromFileOption(fs.FileOption)
}

// AccessRights unpacks the four access-rights nibbles in wire order:
// read, write, read+write, change.
func (fs *FileSettings) AccessRights() (read, write, readWrite, change byte) {
	return (fs.AR2 >> 4) & 0x0F, fs.AR2 & 0x0F, (fs.AR1 >> 4) & 0x0F, fs.AR1 & 0x0F
}

func parseFileSettings(data []byte) (*FileSettings, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("%w: file settings response too short (%d bytes)", ErrProtocolDesync, len(data))
	}
	fs := &FileSettings{
		FileType:   data[0],
		FileOption: data[1],
		AR1:        data[2],
		AR2:        data[3],
		Size:       int(data[4]) | int(data[5])<<8 | int(data[6])<<16,
	}
	fs.Raw = make([]byte, len(data))
	copy(fs.Raw, data)
	return fs, nil
}
