package ipfs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/logger"
	"github.com/mikeydub/comment-references/service/tracing"
	"github.com/mikeydub/comment-references/util"
)

// PublicGateway is used when content could not be pinned to our own gateway
const PublicGateway = "https://ipfs.io"

const defaultPinTimeout = 3 * time.Second

var ErrInvalidURL = errors.New("invalid ipfs url")

func init() {
	env.RegisterValidation("IPFS_API_URL", "required")
	env.RegisterValidation("IPFS_GATEWAY_URL", "required")
}

// Pinner pins content so that a gateway can serve it
type Pinner interface {
	Pin(ctx context.Context, path string) error
}

// ShellPinner pins through an IPFS node's HTTP API
type ShellPinner struct {
	Shell *shell.Shell
}

func (p ShellPinner) Pin(ctx context.Context, path string) error {
	return p.Shell.Request("pin/add", path).Option("recursive", true).Exec(ctx, nil)
}

// Gateway rewrites ipfs:// URLs to gateway URLs, pinning content first
type Gateway struct {
	pinner     Pinner
	host       string
	publicHost string
	pinTimeout time.Duration
}

func NewGateway(pinner Pinner, host string) *Gateway {
	return &Gateway{
		pinner:     pinner,
		host:       strings.TrimSuffix(host, "/"),
		publicHost: PublicGateway,
		pinTimeout: defaultPinTimeout,
	}
}

// NewGatewayFromEnv pins through IPFS_API_URL and serves from IPFS_GATEWAY_URL
func NewGatewayFromEnv() *Gateway {
	return NewGateway(ShellPinner{Shell: NewShell()}, env.GetString("IPFS_GATEWAY_URL"))
}

// Resolve pins the content of ipfsURL and returns its URL on our gateway. If pinning fails the URL on the
// public gateway is returned instead.
func (g *Gateway) Resolve(ctx context.Context, ipfsURL string) (string, error) {
	path, err := ParseURL(ipfsURL)
	if err != nil {
		return "", err
	}

	pinCtx, cancel := context.WithTimeout(ctx, g.pinTimeout)
	defer cancel()

	if err := g.pinner.Pin(pinCtx, path); err != nil {
		logger.For(ctx).WithError(err).Warnf("failed to pin %s, falling back to public gateway", path)
		return PathGatewayFor(g.publicHost, path), nil
	}

	return PathGatewayFor(g.host, path), nil
}

// ParseURL validates an ipfs://<cid>[/path] URL and returns <cid>[/path]
func ParseURL(ipfsURL string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(ipfsURL), "ipfs://") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, ipfsURL)
	}

	path := util.GetURIPath("ipfs://"+ipfsURL[len("ipfs://"):], false)
	root, _, _ := strings.Cut(path, "/")

	if _, err := cid.Decode(root); err != nil {
		return "", fmt.Errorf("%w: %q: %s", ErrInvalidURL, ipfsURL, err)
	}

	return path, nil
}

// NewShell returns an IPFS shell with default configuration
func NewShell() *shell.Shell {
	sh := shell.NewShellWithClient(env.GetString("IPFS_API_URL"), defaultHTTPClient())
	sh.SetTimeout(defaultPinTimeout)
	return sh
}

// defaultHTTPClient returns an http.Client configured with default settings intended for IPFS calls.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: authTransport{
			RoundTripper:  tracing.NewTracingTransport(http.DefaultTransport, false),
			ProjectID:     env.GetString("IPFS_PROJECT_ID"),
			ProjectSecret: env.GetString("IPFS_PROJECT_SECRET"),
		},
	}
}

// PathGatewayFor returns the path gateway URL for a CID
func PathGatewayFor(gatewayHost, path string) string {
	return pathURL(gatewayHost, path)
}

// authTransport decorates each request with a basic auth header.
type authTransport struct {
	http.RoundTripper
	ProjectID     string
	ProjectSecret string
}

func (t authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.ProjectID != "" {
		r = r.Clone(r.Context())
		r.SetBasicAuth(t.ProjectID, t.ProjectSecret)
	}
	return t.RoundTripper.RoundTrip(r)
}

// pathURL returns the gateway URL in path resolution sytle
func pathURL(host, path string) string {
	return fmt.Sprintf("%s/ipfs/%s", host, path)
}
