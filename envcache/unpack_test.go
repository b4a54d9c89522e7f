package envcache

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
	mode int64
	dir  bool
	link string
}

var sampleEntries = []entry{
	{name: "grader/", dir: true},
	{name: "grader/check.py", body: "print('ok')\n", mode: 0o644},
	{name: "run.sh", body: "#!/bin/bash\necho hi\n", mode: 0o755},
}

func buildTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		h := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			h.Typeflag = tar.TypeDir
			h.Mode = 0o755
			h.Size = 0
		case e.link != "":
			h.Typeflag = tar.TypeSymlink
			h.Linkname = e.link
			h.Mode = 0o777
			h.Size = 0
		}
		require.NoError(t, tw.WriteHeader(h))
		if !e.dir && e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
}

func writeArchive(t *testing.T, name string, entries []entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var buf bytes.Buffer

	switch filepath.Ext(name) {
	case ".zip":
		zw := zip.NewWriter(&buf)
		for _, e := range entries {
			if e.dir {
				_, err := zw.Create(e.name)
				require.NoError(t, err)
				continue
			}
			fh := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
			fh.SetMode(os.FileMode(e.mode))
			w, err := zw.CreateHeader(fh)
			require.NoError(t, err)
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
	case ".gz":
		zw := gzip.NewWriter(&buf)
		buildTar(t, zw, entries)
		require.NoError(t, zw.Close())
	case ".zst":
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		buildTar(t, zw, entries)
		require.NoError(t, zw.Close())
	default:
		buildTar(t, &buf, entries)
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestUnpackFormats(t *testing.T) {
	for _, name := range []string{"env.zip", "env.tar", "env.tar.gz", "env.tar.zst"} {
		t.Run(name, func(t *testing.T) {
			archive := writeArchive(t, name, sampleEntries)
			dest := filepath.Join(t.TempDir(), "work")

			require.NoError(t, Unpack(archive, dest))

			data, err := os.ReadFile(filepath.Join(dest, "grader", "check.py"))
			require.NoError(t, err)
			assert.Equal(t, "print('ok')\n", string(data))

			info, err := os.Stat(filepath.Join(dest, "run.sh"))
			require.NoError(t, err)
			assert.NotZero(t, info.Mode().Perm()&0o100, "executable bit kept")
		})
	}
}

func TestUnpackRejectsUnsafeEntries(t *testing.T) {
	tests := []struct {
		name    string
		archive string
		entries []entry
	}{
		{"TarTraversal", "bad.tar", []entry{{name: "../escape.txt", body: "x", mode: 0o644}}},
		{"TarAbsolute", "bad.tar.gz", []entry{{name: "/etc/passwd", body: "x", mode: 0o644}}},
		{"ZipTraversal", "bad.zip", []entry{{name: "a/../../escape.txt", body: "x", mode: 0o644}}},
		{"SymlinkOutside", "bad.tar", []entry{{name: "up", link: "../"}}},
		{"ChainedSymlinks", "bad.tar", []entry{
			{name: "a", link: "."},
			{name: "b", link: "a/.."},
			{name: "b/escape.txt", body: "x", mode: 0o644},
		}},
		{"WriteThroughSymlink", "bad.tar", []entry{
			{name: "a", link: "."},
			{name: "a/escape.txt", body: "x", mode: 0o644},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := writeArchive(t, tt.archive, tt.entries)
			parent := t.TempDir()
			dest := filepath.Join(parent, "work")

			err := Unpack(archive, dest)
			require.Error(t, err)
			assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
			assert.NoFileExists(t, filepath.Join(dest, "escape.txt"))
		})
	}
}

func TestUnpackKeepsInnerSymlinks(t *testing.T) {
	archive := writeArchive(t, "env.tar", []entry{
		{name: "lib/", dir: true},
		{name: "lib/util.py", body: "X = 1\n", mode: 0o644},
		{name: "util.py", link: "lib/util.py"},
		{name: "lib/self", link: "."},
	})
	dest := filepath.Join(t.TempDir(), "work")

	require.NoError(t, Unpack(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "util.py"))
	require.NoError(t, err)
	assert.Equal(t, "X = 1\n", string(data))

	link, err := os.Readlink(filepath.Join(dest, "lib", "self"))
	require.NoError(t, err)
	assert.Equal(t, ".", link)
}

func TestUnpackUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.rar")
	require.NoError(t, os.WriteFile(path, []byte("rar"), 0o600))

	err := Unpack(path, filepath.Join(t.TempDir(), "work"))
	require.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestSafeJoin(t *testing.T) {
	dest := "/data/work"

	got, err := safeJoin(dest, "./")
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	got, err = safeJoin(dest, "a/b/../c.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "c.txt"), got)

	_, err = safeJoin(dest, "..")
	require.Error(t, err)
}
