// Package archive streams files and folders as a zstd compressed tar archive.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

const (
	// MinCompressionLevel is the fastest zstd level.
	MinCompressionLevel = 1
	// MaxCompressionLevel is the strongest zstd level accepted.
	MaxCompressionLevel = 19
	// DefaultCompressionLevel matches the zstd command line default.
	DefaultCompressionLevel = 3
)

// Archiver ...
type Archiver struct {
	logger           log.Logger
	compressionLevel int
}

// NewArchiver ...
func NewArchiver(logger log.Logger, compressionLevel int) (*Archiver, error) {
	if compressionLevel < MinCompressionLevel || compressionLevel > MaxCompressionLevel {
		return nil, fmt.Errorf("compression level should be between %d and %d, got %d", MinCompressionLevel, MaxCompressionLevel, compressionLevel)
	}
	return &Archiver{
		logger:           logger,
		compressionLevel: compressionLevel,
	}, nil
}

// Write compresses the provided files and folders into w, storing them with their absolute paths.
// Nothing is buffered beyond the compressor's window, so w can be an upload stream.
func (a *Archiver) Write(w io.Writer, includePaths []string) error {
	zstdWriter, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(a.compressionLevel)))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	var fileCount int
	for _, p := range includePaths {
		n, err := a.writePath(tw, filepath.Clean(p))
		fileCount += n
		if err != nil {
			zstdWriter.Close() //nolint:errcheck
			return fmt.Errorf("archive %s: %w", p, err)
		}
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	a.logger.Debugf("Archived %d files (zstd level %d)", fileCount, a.compressionLevel)
	return nil
}

func (a *Archiver) writePath(tw *tar.Writer, root string) (int, error) {
	var fileCount int
	err := filepath.Walk(root, func(file string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return fmt.Errorf("create file info header: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Clean(file))

		if fi.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(file)
			if err != nil {
				return fmt.Errorf("read symlink: %w", err)
			}
			header.Typeflag = tar.TypeSymlink
			header.Linkname = link
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar file header: %w", err)
		}

		// nothing more to do for non-regular files or directories
		if !fi.Mode().IsRegular() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.Copy(tw, data); err != nil {
			data.Close() //nolint:errcheck
			return fmt.Errorf("copy file: %w", err)
		}
		if err := data.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		fileCount++

		return nil
	})
	return fileCount, err
}

// Extract unpacks an archive created by Write. Entries keep their absolute paths
// unless destinationDirectory is set, in which case they are placed below it.
func Extract(r io.Reader, destinationDirectory string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar file: %w", err)
		}

		target := filepath.FromSlash(header.Name)
		if destinationDirectory != "" {
			target = filepath.Join(destinationDirectory, target)
			if !withinDir(destinationDirectory, target) {
				return fmt.Errorf("entry %s points outside of %s", header.Name, destinationDirectory)
			}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create target directories: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create parent directories: %w", err)
			}
			fileToWrite, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(fileToWrite, tr); err != nil {
				fileToWrite.Close() //nolint:errcheck
				return fmt.Errorf("copy content to file: %w", err)
			}
			// closed per entry, a deferred close would keep every file open until the end
			if err := fileToWrite.Close(); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("symlink file: %w", err)
			}
		}
	}
	return nil
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
