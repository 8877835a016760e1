// tagctl is a host-side utility for NTAG 424 DNA tags: identify a tag,
// inspect file settings, read and write data files, and rotate keys.
//
// Usage:
//
//	tagctl [flags] info
//	tagctl [flags] settings <file>
//	tagctl [flags] read <file> <offset> <length>
//	tagctl [flags] write <file> <offset> <hexdata>
//	tagctl [flags] keyversion <slot>
//	tagctl [flags] changekey <slot> <newkey.hex> [oldkey.hex]
//	tagctl [flags] diag
//
// <file> is one of: cc, ndef, prop.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/nfckit/tag424/internal/config"
	"github.com/nfckit/tag424/pkg/ntag424"
)

func main() {
	configPath := flag.String("config", "", "yaml config file")
	readerIdx := flag.Int("reader", 0, "PC/SC reader index")
	keyFile := flag.String("key", "", "authentication key .hex file")
	keyNo := flag.Int("keyno", 0, "authentication key slot (0..4)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal("config: %v", err)
		}
		*readerIdx = *cfg.Runtime.ReaderIndex
		*keyNo = *cfg.Auth.KeyNo
		if cfg.Auth.KeyHexFile != "" && *keyFile == "" {
			*keyFile = cfg.Auth.KeyHexFile
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := ntag424.Connect(*readerIdx)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer conn.Close()
	slog.Info("connected", "reader", conn.Reader)

	tag := ntag424.New(conn)
	defer tag.Terminate()

	switch args[0] {
	case "info":
		err = cmdInfo(tag)
	case "settings":
		err = cmdSettings(tag, args[1:], *keyNo, *keyFile)
	case "read":
		err = cmdRead(tag, args[1:], *keyNo, *keyFile)
	case "write":
		err = cmdWrite(tag, args[1:], *keyNo, *keyFile)
	case "keyversion":
		err = cmdKeyVersion(tag, args[1:], *keyNo, *keyFile)
	case "changekey":
		err = cmdChangeKey(tag, args[1:], *keyFile)
	case "diag":
		err = cmdDiag(tag, *keyFile)
	default:
		fatal("unknown command %q", args[0])
	}
	if err != nil {
		fatal("%s: %v", args[0], err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tagctl: "+format+"\n", args...)
	os.Exit(1)
}

func cmdInfo(tag *ntag424.Tag) error {
	v, err := tag.GetVersion()
	if err != nil {
		return err
	}
	fmt.Printf("UID:        %s\n", hexUpper(v.UID))
	fmt.Printf("Hardware:   vendor %02X type %02X.%02X v%d.%d storage %02X\n",
		v.HWVendorID, v.HWType, v.HWSubType, v.HWMajorVer, v.HWMinorVer, v.HWStorageSize)
	fmt.Printf("Software:   vendor %02X type %02X.%02X v%d.%d\n",
		v.SWVendorID, v.SWType, v.SWSubType, v.SWMajorVer, v.SWMinorVer)
	fmt.Printf("Batch:      %s  fab key %02X  prod 20%02d week %d\n",
		hexUpper(v.BatchNo), v.FabKey, v.ProdYear, v.ProdWeek)
	return nil
}

func cmdSettings(tag *ntag424.Tag, args []string, keyNo int, keyFile string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: settings <file>")
	}
	file, err := parseFileID(args[0])
	if err != nil {
		return err
	}
	if err := authenticate(tag, keyNo, keyFile); err != nil {
		return err
	}
	fs, err := tag.GetFileSettings(file)
	if err != nil {
		return err
	}
	read, write, rw, change := fs.AccessRights()
	fmt.Printf("File %v: type %02X, mode %v, size %d\n", file, fs.FileType, fs.CommMode(), fs.Size)
	fmt.Printf("  Read:             %s\n", accessLabel(read))
	fmt.Printf("  Write:            %s\n", accessLabel(write))
	fmt.Printf("  Read+Write:       %s\n", accessLabel(rw))
	fmt.Printf("  Change settings:  %s\n", accessLabel(change))
	return nil
}

func cmdRead(tag *ntag424.Tag, args []string, keyNo int, keyFile string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: read <file> <offset> <length>")
	}
	file, err := parseFileID(args[0])
	if err != nil {
		return err
	}
	offset, err := parseByte(args[1], "offset")
	if err != nil {
		return err
	}
	length, err := parseByte(args[2], "length")
	if err != nil {
		return err
	}
	if err := authenticate(tag, keyNo, keyFile); err != nil {
		return err
	}
	data, err := tag.ReadData(file, offset, length)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", hexUpper(data))
	return nil
}

func cmdWrite(tag *ntag424.Tag, args []string, keyNo int, keyFile string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: write <file> <offset> <hexdata>")
	}
	file, err := parseFileID(args[0])
	if err != nil {
		return err
	}
	offset, err := parseByte(args[1], "offset")
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(strings.TrimSpace(args[2]))
	if err != nil {
		return fmt.Errorf("data is not valid hex: %v", err)
	}
	if err := authenticate(tag, keyNo, keyFile); err != nil {
		return err
	}
	if err := tag.WriteData(file, data, offset); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %v at offset %d\n", len(data), file, offset)
	return nil
}

func cmdKeyVersion(tag *ntag424.Tag, args []string, keyNo int, keyFile string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: keyversion <slot>")
	}
	slot, err := parseByte(args[0], "slot")
	if err != nil {
		return err
	}
	if err := authenticate(tag, keyNo, keyFile); err != nil {
		return err
	}
	version, err := tag.GetKeyVersion(slot)
	if err != nil {
		return err
	}
	fmt.Printf("key slot %d version: %d\n", slot, version)
	return nil
}

func cmdChangeKey(tag *ntag424.Tag, args []string, keyFile string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: changekey <slot> <newkey.hex> [oldkey.hex]")
	}
	slot, err := parseByte(args[0], "slot")
	if err != nil {
		return err
	}
	newKey, err := ntag424.LoadKeyHexFile(args[1])
	if err != nil {
		return fmt.Errorf("new key: %w", err)
	}

	// Key changes always run under a slot-0 session.
	if err := authenticate(tag, 0, keyFile); err != nil {
		return err
	}

	if slot == 0 {
		if err := tag.ChangeMasterKey(newKey); err != nil {
			return err
		}
		fmt.Println("master key changed; session invalidated, re-authenticate with the new key")
		return nil
	}

	oldKey := make([]byte, 16)
	if len(args) == 3 {
		oldKey, err = ntag424.LoadKeyHexFile(args[2])
		if err != nil {
			return fmt.Errorf("old key: %w", err)
		}
	}
	if err := tag.ChangeApplicationKey(slot, oldKey, newKey); err != nil {
		return err
	}
	fmt.Printf("key slot %d changed\n", slot)
	return nil
}

func cmdDiag(tag *ntag424.Tag, keyFile string) error {
	key, err := resolveKey(keyFile)
	if err != nil {
		return err
	}
	results := tag.DiagnoseAuthSlots(key, []byte{0, 1, 2, 3, 4})
	for _, r := range results {
		if r.Success {
			fmt.Printf("slot %d: OK\n", r.Slot)
			continue
		}
		if r.Step != "" {
			fmt.Printf("slot %d: failed at %s (SW=%04X len=%d)\n", r.Slot, r.Step, r.SW, r.RespLen)
		} else {
			fmt.Printf("slot %d: failed: %v\n", r.Slot, r.Err)
		}
	}
	return nil
}

func authenticate(tag *ntag424.Tag, keyNo int, keyFile string) error {
	key, err := resolveKey(keyFile)
	if err != nil {
		return err
	}
	if err := tag.SelectFile(ntag424.FileApplication); err != nil {
		return err
	}
	if err := tag.AuthenticateEV2First(byte(keyNo), key); err != nil {
		return fmt.Errorf("authenticate slot %d: %w", keyNo, err)
	}
	slog.Info("authenticated", "slot", keyNo)
	return nil
}

// resolveKey loads the key from the given .hex file, or prompts for it
// without echo when no file is configured.
func resolveKey(keyFile string) ([]byte, error) {
	if keyFile != "" {
		return ntag424.LoadKeyHexFile(keyFile)
	}
	fmt.Fprint(os.Stderr, "key (32 hex chars): ")
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(line)))
	if err != nil || len(key) != 16 {
		return nil, fmt.Errorf("key must be 32 hex chars")
	}
	return key, nil
}

func parseFileID(s string) (ntag424.FileID, error) {
	switch strings.ToLower(s) {
	case "cc":
		return ntag424.FileCC, nil
	case "ndef":
		return ntag424.FileNDEF, nil
	case "prop", "proprietary":
		return ntag424.FileProprietary, nil
	default:
		return 0, fmt.Errorf("unknown file %q (want cc, ndef, or prop)", s)
	}
}

func parseByte(s, what string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %v", what, s, err)
	}
	return byte(v), nil
}

func accessLabel(keyNo byte) string {
	switch keyNo {
	case 0x0E:
		return "free (no key needed)"
	case 0x0F:
		return "denied (never)"
	default:
		return fmt.Sprintf("key slot %d", keyNo)
	}
}

func hexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
