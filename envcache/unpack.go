package envcache

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedArchive is returned for archive names with an unknown suffix.
var ErrUnsupportedArchive = errors.New("unsupported archive format")

const (
	dirPermission = 0o755
	maxEntrySize  = 4 << 30
)

// Unpack extracts the archive at path into dest, creating dest if needed. The
// format is chosen by file suffix. Entries with absolute paths or paths that
// escape dest are rejected.
func Unpack(path, dest string) error {
	if err := os.MkdirAll(dest, dirPermission); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return unzip(path, dest)
	case strings.HasSuffix(name, ".tar"):
		return untarFile(path, dest, func(r io.Reader) (io.Reader, func(), error) {
			return r, func() {}, nil
		})
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return untarFile(path, dest, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { _ = zr.Close() }, nil
		})
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return untarFile(path, dest, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, zr.Close, nil
		})
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return untarFile(path, dest, func(r io.Reader) (io.Reader, func(), error) {
			return bzip2.NewReader(r), func() {}, nil
		})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(path))
	}
}

// safeJoin resolves an archive entry name below dest.
func safeJoin(dest, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty entry name")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("absolute path not allowed in archive: %s", name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return dest, nil
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("unsafe relative path in archive: %s", name)
	}
	return filepath.Join(dest, clean), nil
}

type decompressor func(io.Reader) (io.Reader, func(), error)

func untarFile(path, dest string, decompress decompressor) error {
	f, err := os.Open(path) //nolint:gosec // archive path comes from the cache
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	r, release, err := decompress(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer release()

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		if err := checkNoSymlinks(dest, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, header.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlinkEntry(dest, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			// pax metadata only
		default:
			return fmt.Errorf("unsupported file type in tar: %c (%s)", header.Typeflag, header.Name)
		}
	}
}

func unzip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, err := safeJoin(dest, file.Name)
		if err != nil {
			return err
		}
		if err := checkNoSymlinks(dest, target); err != nil {
			return err
		}

		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, dirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case mode&os.ModeSymlink != 0:
			rc, err := file.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file.Name, err)
			}
			link, err := io.ReadAll(io.LimitReader(rc, 4096))
			_ = rc.Close()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file.Name, err)
			}
			if err := symlinkEntry(dest, target, string(link)); err != nil {
				return err
			}
		default:
			rc, err := file.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file.Name, err)
			}
			err = writeEntry(target, rc, mode)
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPermission); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	perm := mode.Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm) //nolint:gosec // target is checked by safeJoin
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if n > maxEntrySize {
		return fmt.Errorf("archive entry %s is too large", filepath.Base(target))
	}
	return nil
}

// checkNoSymlinks fails when target or any of its parents below dest is an
// existing symlink. Entries are never written through links.
func checkNoSymlinks(dest, target string) error {
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == "." {
		return err
	}
	cur := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", cur, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("archive entry passes through symlink: %s", rel)
		}
	}
	return nil
}

// symlinkEntry creates a link whose target stays inside dest. The target is
// walked one element at a time: ".." after an existing link is resolved by
// the OS against the link's target, so it is rejected.
func symlinkEntry(dest, target, link string) error {
	if link == "" || filepath.IsAbs(link) {
		return fmt.Errorf("absolute or empty symlink not allowed in archive: %q", link)
	}
	cur := filepath.Dir(target)
	for _, part := range strings.Split(filepath.FromSlash(link), string(filepath.Separator)) {
		switch part {
		case "", ".":
			continue
		case "..":
			if info, err := os.Lstat(cur); err == nil && info.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("symlink leaves another symlink through ..: %s", link)
			}
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
		}
		rel, err := filepath.Rel(dest, cur)
		if err != nil || (rel != "." && !filepath.IsLocal(rel)) {
			return fmt.Errorf("symlink escapes destination: %s", link)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPermission); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	return os.Symlink(link, target)
}
