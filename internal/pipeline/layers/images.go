package layers

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

const defaultUploadConcurrency = 4

// UploadImages re-hosts every <img> of an HTML message into the content
// repository and points the tags at the mxc:// copies. Images that fail to
// upload keep their original URL.
func UploadImages(media ports.MediaUploader, uploader ports.ContentUploader, concurrency int, logger *slog.Logger) *Layer {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	return New(NameUploadImages, ports.StagePost, func(ctx context.Context, _ *domain.WebhookPayload, msg *domain.MatrixPayload) error {
		if msg.Event.Format != event.FormatHTML || !strings.Contains(msg.Event.FormattedBody, "<img") {
			return nil
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.Event.FormattedBody))
		if err != nil {
			return err
		}

		imgs := doc.Find("img")
		seen := make(map[string]bool)
		var sources []string
		imgs.Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || src == "" || strings.HasPrefix(src, "mxc://") || seen[src] {
				return
			}
			seen[src] = true
			sources = append(sources, src)
		})
		if len(sources) == 0 {
			return nil
		}

		var (
			mu       sync.Mutex
			g        errgroup.Group
			uploaded = make(map[string]string, len(sources))
		)
		g.SetLimit(concurrency)
		for _, src := range sources {
			g.Go(func() error {
				uri, err := media.Upload(ctx, uploader, src)
				if err != nil {
					logger.Warn("failed to upload image",
						slog.String("url", src),
						slog.String("error", err.Error()))
					return nil
				}
				mu.Lock()
				uploaded[src] = uri.String()
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		changed := false
		imgs.Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			if mxc := uploaded[src]; mxc != "" {
				s.SetAttr("src", mxc)
				changed = true
			}
		})
		if !changed {
			return nil
		}

		rendered, err := doc.Find("body").Html()
		if err != nil {
			return err
		}
		msg.Event.FormattedBody = rendered
		return nil
	})
}
