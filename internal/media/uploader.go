package media

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Uploader re-hosts remote images through a ContentUploader.
type Uploader struct {
	fetcher *Fetcher
}

// NewUploader creates an uploader backed by the fetcher.
func NewUploader(fetcher *Fetcher) *Uploader {
	return &Uploader{fetcher: fetcher}
}

func (u *Uploader) Upload(ctx context.Context, uploader ports.ContentUploader, url string) (id.ContentURI, error) {
	m, err := u.fetcher.Fetch(ctx, url)
	if err != nil {
		return id.ContentURI{}, err
	}

	uri, err := uploader.UploadContent(ctx, m.Data, m.ContentType, m.FileName)
	if err != nil {
		return id.ContentURI{}, fmt.Errorf("upload %s: %w", m.FileName, err)
	}
	return uri, nil
}

var _ ports.MediaUploader = (*Uploader)(nil)
