package input

import (
	"context"
	"net/http"

	"github.com/melbahja/got"
)

// GotDownloader downloads files with got, in parallel chunks when the server supports ranges.
type GotDownloader struct {
	client *http.Client
}

// NewGotDownloader uses client for the requests, or got's default client if nil.
func NewGotDownloader(client *http.Client) *GotDownloader {
	return &GotDownloader{client: client}
}

// Get ...
func (d *GotDownloader) Get(ctx context.Context, destination, source string) error {
	downloader := got.New()
	if d.client != nil {
		downloader.Client = d.client
	}

	return downloader.Do(got.NewDownload(ctx, source, destination))
}
