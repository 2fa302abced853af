package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/rpc/arweave"
	"github.com/mikeydub/comment-references/service/rpc/ipfs"
	"github.com/mikeydub/comment-references/util"
)

// DefaultTimeout bounds a single fetch, including redirects and reading the body
const DefaultTimeout = 5 * time.Second

// maxPageBytes caps how much of a webpage is read when scraping
const maxPageBytes = 1 << 20

type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindFile    Kind = "file"
	KindWebpage Kind = "webpage"
)

var postfixesToKinds = map[string]Kind{
	"jpg":  KindImage,
	"jpeg": KindImage,
	"png":  KindImage,
	"webp": KindImage,
	"gif":  KindImage,
	"svg":  KindImage,
	"avif": KindImage,
	"mp4":  KindVideo,
	"webm": KindVideo,
	"mov":  KindVideo,
	"html": KindWebpage,
	"htm":  KindWebpage,
}

// Metadata describes the content at a URL
type Metadata struct {
	// URL is the final URL after redirects
	URL       string
	Kind      Kind
	MediaType string
	Page      *Page
}

// Page is the scraped metadata of a webpage
type Page struct {
	Title       string
	Description string
	Favicon     string
	OpenGraph   *OpenGraph
}

// OpenGraph holds Open Graph tags. It is only set when title, image and url are all present.
type OpenGraph struct {
	Title       string
	Description string
	Image       string
	URL         string
}

// Fetcher fetches URLs and describes their content
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{client: client, timeout: timeout}
}

// Fetch requests rawURL and classifies the response. Non-2xx responses are returned as util.ErrHTTP.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/*,video/*;q=0.9,*/*;q=0.8")
	req.Header.Set("User-Agent", "comment-references/1.0 (+link preview)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, util.ErrHTTP{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	finalURL := resp.Request.URL
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	kind := KindFromMediaType(mediaType)
	if kind == KindFile && (mediaType == "" || mediaType == "application/octet-stream") {
		kind = PredictKind(finalURL.Path)
	}

	m := &Metadata{URL: finalURL.String(), Kind: kind, MediaType: mediaType}
	if kind != KindWebpage {
		return m, nil
	}

	page, err := Scrape(io.LimitReader(resp.Body, maxPageBytes), contentType, finalURL)
	if err != nil {
		return nil, err
	}

	m.Page = page
	if m.MediaType == "" {
		m.MediaType = "text/html"
	}

	logger.For(ctx).Debugf("scraped %s: title=%q", m.URL, util.TruncateWithEllipsis(page.Title, 80))

	return m, nil
}

// KindFromMediaType classifies a MIME type
func KindFromMediaType(mediaType string) Kind {
	mediaType = strings.ToLower(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return KindWebpage
	default:
		return KindFile
	}
}

// PredictKind guesses the kind of a resource from its path's extension
func PredictKind(p string) Kind {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if k, ok := postfixesToKinds[ext]; ok {
		return k
	}
	return KindFile
}

// IsNoMatch reports whether err is a client error that means the URL has nothing to show, as opposed to
// a failure that may succeed on retry
func IsNoMatch(err error) bool {
	var httpErr util.ErrHTTP
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.Status == http.StatusRequestTimeout || httpErr.Status == http.StatusTooManyRequests {
		return false
	}
	return httpErr.Status >= 400 && httpErr.Status < 500
}

// IsRetryable reports whether a fetch error may succeed if retried: timeouts, server errors and 404s from
// content that is not yet available
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr util.ErrHTTP
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusNotFound || httpErr.Status == http.StatusRequestTimeout ||
			httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// resolveReference resolves ref against base. Arweave and IPFS links are rewritten to their public gateways
// so clients can load them directly.
func resolveReference(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if arweave.IsArweaveURL(ref) {
		return arweave.DefaultGatewayFrom(ref)
	}
	if cidPath, err := ipfs.ParseURL(ref); err == nil {
		return ipfs.PathGatewayFor(ipfs.PublicGateway, cidPath)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
