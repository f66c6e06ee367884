package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/klauspost/compress/gzip"
)

type devino struct {
	Dev uint64
	Ino uint64
}

// CreateTarGz packs the file tree rooted at dir into a gzip compressed tar
// at dst. Entry names are relative to dir. Hardlinked files are stored once
// and restored as links. The archive is written to a temporary name and
// renamed into place so a crashed run never leaves a plausible artifact.
// An empty dir yields a valid archive with no entries; a missing dir is an
// error. The walk stops as soon as ctx expires, so a stuck or huge tree
// cannot outlive its caller's deadline. Returns the archive size in bytes.
func CreateTarGz(ctx context.Context, dir, dst string) (int64, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, err
	}
	tmp := dst + "+.part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	seen := map[devino]string{}
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Nlink > 1 {
			di := devino{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}
			if orig, ok := seen[di]; ok {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = orig
				hdr.Size = 0
				return tw.WriteHeader(hdr)
			}
			seen[di] = hdr.Name
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		return err
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(tmp)
		return 0, walkErr
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ExtractTarGz unpacks the archive at src into dir, creating parent
// directories as needed. Entry names escaping dir are rejected; extraction
// stops when ctx expires.
func ExtractTarGz(ctx context.Context, src, dir string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("can't read archive %s: %v", src, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("can't read archive %s: %v", src, err)
		}
		if !validRelPath(hdr.Name) {
			return fmt.Errorf("archive contains invalid path %q", hdr.Name)
		}
		abs := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(abs, 0750); err != nil {
				return err
			}
		case tar.TypeLink:
			if !validRelPath(hdr.Linkname) {
				return fmt.Errorf("archive contains invalid link target %q", hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(dir, filepath.FromSlash(hdr.Linkname)), abs); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
				return err
			}
			out, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// sockets, devices and the like never belong to a site tree
			return fmt.Errorf("archive contains unsupported entry %q", hdr.Name)
		}
	}
}

func validRelPath(p string) bool {
	if p == "" || strings.Contains(p, `\`) || strings.HasPrefix(p, "/") || strings.Contains(p, "../") {
		return false
	}
	return true
}
