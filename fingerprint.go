package chainbase

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// fingerprint captures everything about the running process that must
// match between the process that created a data directory and any
// process that reopens it, per spec.md §6: "compiler identity plus
// debug/platform flags". Encoding follows the length-prefixed,
// big-endian layout the teacher's BinaryBuffer uses for its WAL header,
// slimmed to the handful of fields this record needs.
type fingerprint struct {
	goVersion string
	goarch    string
	goos      string
	debug     bool
}

func currentFingerprint() fingerprint {
	return fingerprint{
		goVersion: runtime.Version(),
		goarch:    runtime.GOARCH,
		goos:      runtime.GOOS,
		debug:     debugBuild,
	}
}

func (f fingerprint) encode() []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, f.goVersion)
	buf = appendString(buf, f.goarch)
	buf = appendString(buf, f.goos)
	if f.debug {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeFingerprint(buf []byte) (fingerprint, error) {
	var f fingerprint
	var ok bool
	f.goVersion, buf, ok = readString(buf)
	if !ok {
		return f, fmt.Errorf("chainbase: truncated fingerprint record")
	}
	f.goarch, buf, ok = readString(buf)
	if !ok {
		return f, fmt.Errorf("chainbase: truncated fingerprint record")
	}
	f.goos, buf, ok = readString(buf)
	if !ok {
		return f, fmt.Errorf("chainbase: truncated fingerprint record")
	}
	if len(buf) < 1 {
		return f, fmt.Errorf("chainbase: truncated fingerprint record")
	}
	f.debug = buf[0] == 1
	return f, nil
}

func (f fingerprint) equal(other fingerprint) bool {
	return f.goVersion == other.goVersion && f.goarch == other.goarch &&
		f.goos == other.goos && f.debug == other.debug
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, bool) {
	if len(buf) < 4 {
		return "", buf, false
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", buf, false
	}
	return string(buf[:n]), buf[n:], true
}
