// Package input resolves where the bytes to upload come from.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

const (
	fileScheme  = "file://"
	httpScheme  = "http://"
	httpsScheme = "https://"
	stdinSource = "-"

	defaultFileName = "source"
)

// FileDownloader ..
type FileDownloader interface {
	Get(ctx context.Context, destination, source string) error
}

// SourceProvider opens the upload source, which is one of:
//   - "" or "-": standard input
//   - a local path, optionally with the `file://` scheme
//   - an `http://` or `https://` URL, downloaded to a temporary location first
type SourceProvider struct {
	source       string
	downloader   FileDownloader
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	logger       log.Logger
	stdin        io.Reader
}

// NewSourceProvider ...
func NewSourceProvider(source string, downloader FileDownloader, logger log.Logger) SourceProvider {
	return SourceProvider{
		source:       source,
		downloader:   downloader,
		pathProvider: pathutil.NewPathProvider(),
		pathModifier: pathutil.NewPathModifier(),
		logger:       logger,
		stdin:        os.Stdin,
	}
}

// IsStdin ...
func (p SourceProvider) IsStdin() bool {
	return p.source == "" || p.source == stdinSource
}

// Open returns the source contents. The caller has to close it, which also removes
// anything downloaded for it.
func (p SourceProvider) Open(ctx context.Context) (io.ReadCloser, error) {
	switch {
	case p.IsStdin():
		p.logger.Debugf("Reading upload source from stdin")
		return io.NopCloser(p.stdin), nil
	case strings.HasPrefix(p.source, httpScheme), strings.HasPrefix(p.source, httpsScheme):
		return p.download(ctx)
	default:
		localPath, err := p.localPath()
		if err != nil {
			return nil, err
		}
		p.logger.Debugf("Reading upload source from %s", localPath)
		return openFile(localPath)
	}
}

// localPath removes file:// from the beginning of the path and makes it absolute
func (p SourceProvider) localPath() (string, error) {
	pth := strings.TrimPrefix(p.source, fileScheme)
	return p.pathModifier.AbsPath(pth)
}

func (p SourceProvider) download(ctx context.Context) (io.ReadCloser, error) {
	if p.downloader == nil {
		return nil, fmt.Errorf("no downloader configured for remote source")
	}

	tmpDir, err := p.pathProvider.CreateTempDir("streamput-source")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	fileName, err := p.fileNameFromPathURL()
	if err != nil {
		removeDir(tmpDir, p.logger)
		return nil, fmt.Errorf("parse source URL: %w", err)
	}

	localPath := filepath.Join(tmpDir, fileName)
	p.logger.Debugf("Downloading upload source to %s", localPath)
	if err := p.downloader.Get(ctx, localPath, p.source); err != nil {
		removeDir(tmpDir, p.logger)
		return nil, fmt.Errorf("download source: %w", err)
	}

	f, err := openFile(localPath)
	if err != nil {
		removeDir(tmpDir, p.logger)
		return nil, err
	}
	return &tempFile{File: f, dir: tmpDir}, nil
}

// Returns the file's name from a URL that starts with
// `http://` or `https://`
func (p SourceProvider) fileNameFromPathURL() (string, error) {
	u, err := url.Parse(p.source)
	if err != nil {
		return "", err
	}

	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == string(filepath.Separator) {
		return defaultFileName, nil
	}
	return name, nil
}

func openFile(pth string) (*os.File, error) {
	f, err := os.Open(pth)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("source is a directory: %s", pth)
	}
	return f, nil
}

// tempFile removes its directory on Close.
type tempFile struct {
	*os.File
	dir string
}

func (f *tempFile) Close() error {
	err := f.File.Close()
	if rmErr := os.RemoveAll(f.dir); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	return err
}

func removeDir(dir string, logger log.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnf("Failed to remove %s: %s", dir, err)
	}
}
