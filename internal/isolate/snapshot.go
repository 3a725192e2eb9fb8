package isolate

import (
	"bytes"
	"encoding/binary"

	"github.com/dop251/goja"
)

// Snapshot blobs are opaque to callers: a magic header, a format version,
// and the embed source whose evaluation seeds a new guest environment.
var snapshotMagic = []byte("JSBOXSNAP\x00")

const snapshotVersion = 1

// CreateSnapshot evaluates the embed source in a throwaway guest
// environment and, if it runs cleanly, packages it as a blob that
// Options.Snapshot accepts.
func CreateSnapshot(source string) ([]byte, error) {
	if source == "" {
		return nil, errorf(KindInvalidArgument, "snapshot source must not be empty")
	}
	if len(source) > MaxStringLen {
		return nil, errorf(KindLimitExceeded, "snapshot source exceeds maximum supported length")
	}

	prog, err := goja.Compile("snapshot", source, false)
	if err != nil {
		return nil, wrapErr(KindCompile, err, "snapshot source does not compile")
	}
	if _, err := goja.New().RunProgram(prog); err != nil {
		return nil, wrapErr(KindInvalidSnapshot, err, "snapshot source failed to evaluate")
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	buf.WriteByte(snapshotVersion)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(source)))
	buf.Write(lenBuf[:])
	buf.WriteString(source)
	return buf.Bytes(), nil
}

// parseSnapshot unpacks a blob produced by CreateSnapshot.
func parseSnapshot(blob []byte) (string, error) {
	header := len(snapshotMagic) + 1 + 4
	if len(blob) < header || !bytes.HasPrefix(blob, snapshotMagic) {
		return "", errorf(KindInvalidSnapshot, "snapshot blob is malformed")
	}
	if blob[len(snapshotMagic)] != snapshotVersion {
		return "", errorf(KindInvalidSnapshot, "unsupported snapshot version %d", blob[len(snapshotMagic)])
	}
	size := binary.BigEndian.Uint32(blob[len(snapshotMagic)+1 : header])
	if int(size) != len(blob)-header {
		return "", errorf(KindInvalidSnapshot, "snapshot blob is truncated")
	}
	return string(blob[header:]), nil
}
