package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"golang.org/x/sync/singleflight"
)

// InlineImage is an image encoded for embedding in a request body.
type InlineImage struct {
	MediaType string
	Data      string // standard base64
}

// Decode returns the raw image bytes.
func (i InlineImage) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(i.Data)
}

// EncodeImage base64-encodes data, sniffing the media type when the server
// did not send a usable one.
func EncodeImage(data []byte, contentType string) InlineImage {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return InlineImage{
		MediaType: mt,
		Data:      base64.StdEncoding.EncodeToString(data),
	}
}

// MediaFetcher downloads referenced images. Concurrent fetches of the same
// URL share one download.
type MediaFetcher struct {
	client   *transport.Client
	maxBytes int64
	group    singleflight.Group
}

// NewMediaFetcher creates a fetcher. maxBytes of zero disables the limit.
func NewMediaFetcher(client *transport.Client, maxBytes int64) *MediaFetcher {
	return &MediaFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url and encodes it for inlining. The shared download is
// not tied to any one caller's cancellation; each caller stops waiting when
// its own ctx ends. Failures of the image host are request errors, not
// provider failures.
func (f *MediaFetcher) Fetch(ctx context.Context, url string) (InlineImage, *errors.RelayError) {
	ch := f.group.DoChan(url, func() (interface{}, error) {
		resp, rerr := f.client.Get(context.WithoutCancel(ctx), url)
		if rerr != nil {
			cp := *rerr
			cp.Upstream = false
			return nil, &cp
		}
		if !resp.Success() {
			return nil, errors.NewTerminalError(
				fmt.Sprintf("image fetch returned HTTP %d", resp.StatusCode), nil)
		}
		if f.maxBytes > 0 && int64(len(resp.Body)) > f.maxBytes {
			return nil, errors.NewTerminalError(
				fmt.Sprintf("image is larger than %d bytes", f.maxBytes), nil)
		}
		return EncodeImage(resp.Body, resp.Header.Get("Content-Type")), nil
	})

	select {
	case <-ctx.Done():
		return InlineImage{}, errors.NewNetworkError("image fetch cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return InlineImage{}, res.Err.(*errors.RelayError)
		}
		return res.Val.(InlineImage), nil
	}
}
