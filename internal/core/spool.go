package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileTooLarge is returned when an upload exceeds the size limit.
var ErrFileTooLarge = errors.New("file too large")

// spoolPrefix names spooled uploads. The janitor only touches files
// matching it.
const spoolPrefix = "upload-"

// SpoolUpload copies r into a new file under dir and returns its path and
// size. Uploads larger than maxSize are rejected and nothing is left
// behind. A maxSize of 0 disables the limit.
func SpoolUpload(dir, fileName string, r io.Reader, maxSize int64) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create spool dir: %w", err)
	}

	f, err := os.CreateTemp(dir, spoolPrefix+"*"+safeExt(fileName))
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	path := f.Name()

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxSize > 0 && n > maxSize {
		err = fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, maxSize)
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	return path, n, nil
}

// safeExt keeps a short alphanumeric extension for readability of the
// spool directory.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
