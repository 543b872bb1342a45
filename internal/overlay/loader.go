package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// MaxImageSize caps how many bytes HTTPLoader reads per image.
const MaxImageSize = 32 << 20

// Loader fetches and decodes an image. Load must not block; done is called
// exactly once, possibly on another goroutine. Cancelling ctx aborts the
// fetch.
type Loader interface {
	Load(ctx context.Context, url string, done func(*Decoded, error))
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string, done func(*Decoded, error))

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string, done func(*Decoded, error)) {
	f(ctx, url, done)
}

// HTTPLoader fetches export images over HTTP. Concurrent loads of the same
// URL share one fetch.
type HTTPLoader struct {
	client *http.Client
	logger *zap.Logger
	group  singleflight.Group
}

// NewHTTPLoader creates a loader using client, or http.DefaultClient.
func NewHTTPLoader(client *http.Client, logger *zap.Logger) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPLoader{client: client, logger: logger}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, url string, done func(*Decoded, error)) {
	go func() {
		ch := l.group.DoChan(url, func() (any, error) {
			return l.fetch(ctx, url)
		})

		select {
		case res := <-ch:
			err := res.Err
			// The shared fetch ran on another caller's context.
			if err != nil && res.Shared && ctx.Err() == nil && isCancel(err) {
				l.logger.Debug("shared image fetch cancelled, retrying", zap.String("url", url))
				d, err := l.fetch(ctx, url)
				done(d, err)
				return
			}
			if err != nil {
				done(nil, err)
				return
			}
			done(res.Val.(*Decoded), nil)
		case <-ctx.Done():
			done(nil, ctx.Err())
		}
	}()
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *HTTPLoader) fetch(ctx context.Context, url string) (*Decoded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("image request returned status %d", resp.StatusCode)
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image (%s): %w", resp.Header.Get("Content-Type"), err)
	}

	b := img.Bounds()
	return &Decoded{Image: img, Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}
