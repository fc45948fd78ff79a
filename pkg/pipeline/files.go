package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// imageExtensions lists the file extensions treated as images. Every entry
// must have a decoder registered in package classify.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Extensions returns the image extensions in lexical order.
func Extensions() []string {
	return slices.Sorted(maps.Keys(imageExtensions))
}

// FindImages returns the absolute paths of all images below root in lexical
// order. Directories listed in skip are not entered. Symlinks to regular
// files are included; symlinked directories are not followed. A root that
// does not exist or is not a directory yields no images. Unreadable
// subdirectories are skipped.
func FindImages(root string, skip ...string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, nil
	}
	skipped := make(map[string]bool, len(skip))
	for _, dir := range skip {
		if abs, err := filepath.Abs(dir); err == nil {
			skipped[abs] = true
		}
	}

	var images []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if skipped[path] {
				return fs.SkipDir
			}
			return nil
		}
		if IsImage(d.Name()) && isRegularFile(path, d) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(images)
	return images, nil
}

func isRegularFile(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type().IsRegular()
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// MoveUnique moves src into dstDir, creating it if needed. If the name is
// taken, a numeric suffix is inserted before the extension (a.jpg, a_1.jpg,
// a_2.jpg, ...). Existing files are never overwritten. A file already in
// dstDir stays where it is. It returns the final path.
func MoveUnique(src, dstDir string) (string, error) {
	if filepath.Dir(filepath.Clean(src)) == filepath.Clean(dstDir) {
		if _, err := os.Lstat(src); err != nil {
			return "", err
		}
		return src, nil
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		dst := filepath.Join(dstDir, name)
		if _, err := os.Lstat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if err := move(src, dst); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", err
		}
		return dst, nil
	}
}

// Replaced in tests to exercise the cross-device fallback.
var (
	renameFile = os.Rename
	removeFile = os.Remove
)

// move renames src to dst, falling back to copy and remove when they are on
// different devices. dst is created exclusively in the fallback.
func move(src, dst string) error {
	if err := renameFile(src, dst); err == nil {
		return nil
	} else if _, statErr := os.Stat(src); statErr != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	in.Close()
	if err := removeFile(src); err != nil {
		// Leave a single copy behind.
		os.Remove(dst)
		return fmt.Errorf("removing %s after copy: %w", filepath.Base(src), err)
	}
	return nil
}
