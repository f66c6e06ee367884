package archive

import (
	"archive/tar"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// VerifyStatus classifies an artifact on disk.
type VerifyStatus int

const (
	// Valid - the artifact decompressed fully and its structure checks out.
	Valid VerifyStatus = iota
	// Corrupt - the artifact exists but cannot be read back.
	Corrupt
	// Empty - the artifact is a zero-byte placeholder. Soft condition.
	Empty
)

func (s VerifyStatus) String() string {
	switch s {
	case Valid:
		return "valid"
	case Corrupt:
		return "corrupt"
	case Empty:
		return "empty"
	}
	return "unknown"
}

// Verify reads the artifact at path back in full. The gzip trailer CRC is
// always checked; for tar artifacts every entry is enumerated as well.
// A missing or unreadable file is Corrupt, a zero-byte file is Empty.
func Verify(path string, isTar bool) VerifyStatus {
	info, err := os.Stat(path)
	if err != nil {
		return Corrupt
	}
	if info.Size() == 0 {
		return Empty
	}
	f, err := os.Open(path)
	if err != nil {
		return Corrupt
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return Corrupt
	}
	defer gz.Close()

	if isTar {
		tr := tar.NewReader(gz)
		for {
			_, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return Corrupt
			}
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return Corrupt
			}
		}
	}
	// drain the remaining stream so the gzip CRC is validated
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return Corrupt
	}
	return Valid
}
