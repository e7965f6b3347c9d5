// Package media fetches webhook-supplied images and re-hosts them in the
// homeserver content repository.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/safehttp"
)

// DefaultMaxSize is the largest image accepted unless configured otherwise.
const DefaultMaxSize = 20 * 1024 * 1024

// ErrUnsupportedMedia is returned for non-image content.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// Media is a fetched file ready for upload.
type Media struct {
	Data        []byte
	ContentType string
	FileName    string
}

// Fetcher downloads images from http(s) and data: URLs.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client for the fetcher.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithMaxSize sets the maximum allowed image size.
func WithMaxSize(maxSize int64) Option {
	return func(f *Fetcher) {
		if maxSize > 0 {
			f.maxSize = maxSize
		}
	}
}

// WithAllowPrivate lets the default client reach private networks.
func WithAllowPrivate(allow bool) Option {
	return func(f *Fetcher) {
		f.client.Transport = safehttp.NewTransport(allow)
	}
}

// NewFetcher creates a fetcher. The default client refuses private addresses.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: safehttp.NewTransport(false),
		},
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the image at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return f.parseDataURL(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q: must be http or https", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}

	if resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("media too large: %d bytes (max %d)", resp.ContentLength, f.maxSize)
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = inferContentType(u.Path)
	}
	if !isImage(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("media too large: exceeds %d bytes", f.maxSize)
	}

	return &Media{
		Data:        data,
		ContentType: contentType,
		FileName:    fileName(u.Path, contentType),
	}, nil
}

// parseDataURL decodes data:<type>;base64,<payload>.
func (f *Fetcher) parseDataURL(rawURL string) (*Media, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("invalid data URL: missing comma separator")
	}

	parts := strings.Split(meta, ";")
	contentType := normalizeContentType(parts[0])
	if !isImage(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, contentType)
	}

	isBase64 := false
	for _, p := range parts[1:] {
		if p == "base64" {
			isBase64 = true
			break
		}
	}
	if !isBase64 {
		return nil, fmt.Errorf("data URL must be base64 encoded")
	}

	if int64(base64.StdEncoding.DecodedLen(len(payload))) > f.maxSize+2 {
		return nil, fmt.Errorf("media too large: exceeds %d bytes", f.maxSize)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data URL: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("media too large: exceeds %d bytes", f.maxSize)
	}

	return &Media{
		Data:        data,
		ContentType: contentType,
		FileName:    fileName("", contentType),
	}, nil
}

func normalizeContentType(ct string) string {
	mainType, _, _ := strings.Cut(ct, ";")
	mainType = strings.TrimSpace(strings.ToLower(mainType))
	if mainType == "image/jpg" {
		return "image/jpeg"
	}
	return mainType
}

func inferContentType(p string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(p))); ct != "" {
		return normalizeContentType(ct)
	}
	return "application/octet-stream"
}

func isImage(ct string) bool {
	return strings.HasPrefix(ct, "image/")
}

func fileName(p, contentType string) string {
	if base := path.Base(p); base != "" && base != "." && base != "/" {
		return base
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return "image" + exts[0]
	}
	return "image"
}
