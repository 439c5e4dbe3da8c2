// Package snapshot packs a step's source directory into a content-addressed
// archive and uploads it to the workspace object store.
package snapshot

import (
	"archive/tar"
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxBytes caps the uncompressed size of a source directory.
const MaxBytes int64 = 300 << 20

// IgnoreFile lists slash-separated path prefixes, one per line, that are left
// out of the archive. Lines starting with # are comments.
const IgnoreFile = ".snapshotignore"

var ErrTooLarge = errors.New("source directory exceeds snapshot size limit")

var skippedDirs = map[string]struct{}{
	".git":        {},
	"__pycache__": {},
	".venv":       {},
}

type Archive struct {
	Data   []byte
	SHA256 string
	Files  int
}

func (a *Archive) Size() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.Data))
}

type Builder struct {
	MaxBytes int64
}

func Build(dir string) (*Archive, error) {
	return Builder{MaxBytes: MaxBytes}.Build(dir)
}

// Build walks dir in lexical order and writes a gzip-compressed tar with
// normalized modes, owners and timestamps, so equal trees give equal digests.
func (b Builder) Build(dir string) (*Archive, error) {
	limit := b.MaxBytes
	if limit <= 0 {
		limit = MaxBytes
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory %s is not a directory", dir)
	}
	ignored, err := readIgnore(filepath.Join(dir, IgnoreFile))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	var total int64
	files := 0
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			if _, skip := skippedDirs[d.Name()]; skip || isIgnored(name+"/", ignored) {
				return filepath.SkipDir
			}
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     name + "/",
				Mode:     0o755,
				Format:   tar.FormatPAX,
			})
		}
		if isIgnored(name, ignored) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case fi.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeSymlink,
				Name:     name,
				Linkname: filepath.ToSlash(target),
				Mode:     0o777,
				Format:   tar.FormatPAX,
			})
		case !fi.Mode().IsRegular():
			return nil
		}
		total += fi.Size()
		if total > limit {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
		}
		mode := int64(0o644)
		if fi.Mode()&0o111 != 0 {
			mode = 0o755
		}
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Size:     fi.Size(),
			Mode:     mode,
			Format:   tar.FormatPAX,
		}); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
		files++
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Archive{Data: buf.Bytes(), SHA256: hex.EncodeToString(sum[:]), Files: files}, nil
}

func readIgnore(p string) ([]string, error) {
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(line)), "/")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFile, err)
	}
	return out, nil
}

func isIgnored(name string, prefixes []string) bool {
	name = strings.TrimSuffix(name, "/")
	for _, prefix := range prefixes {
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			return true
		}
	}
	return false
}
