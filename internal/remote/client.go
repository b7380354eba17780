// Package remote talks to the access-control service: the place and device
// catalogs and the attendance (check-in) query endpoint.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/attendance/internal/logging"
)

// maxBodySize caps a response body, after decompression.
const maxBodySize = 32 << 20

var errBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxBodySize)

// Options configures a Client.
type Options struct {
	PlacesURL  string
	DevicesURL string
	CheckinURL string
	// Credential is the opaque bearer value sent with every attendance query.
	Credential string
	Timeout    time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	opts   Options
	http   *http.Client
	log    *zerolog.Logger
	parser fastjson.ParserPool
	zstd   *zstd.Decoder
}

// New creates a Client. Close releases its decoder.
func New(opts Options) (*Client, error) {
	for name, raw := range map[string]string{
		"places":   opts.PlacesURL,
		"devices":  opts.DevicesURL,
		"checkins": opts.CheckinURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("invalid %s url %q: %w", name, raw, err)
		}
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodySize))
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,
		http: opts.HTTPClient,
		log:  opts.Logger,
		zstd: dec,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = logging.Log()
	}
	return c, nil
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.zstd.Close()
}

// do sends the request and returns the decoded body of any response,
// together with its status code. Only network and decoding failures are
// returned as errors.
func (c *Client) do(req *http.Request, fallback string) ([]byte, int, error) {
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd, gzip")
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("request_id", reqID).Str("url", req.URL.Redacted()).Msg("remote call failed")
		return nil, 0, &TransportError{Message: fallback, Err: err}
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Message: fallback, Err: err}
	}

	c.log.Debug().
		Str("request_id", reqID).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("remote call")

	return body, resp.StatusCode, nil
}

// readBody decodes the body according to its Content-Encoding.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	raw, err := readCapped(resp.Body)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return raw, nil
	case "zstd":
		out, err := c.zstd.DecodeAll(raw, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || len(out) > maxBodySize {
			return nil, errBodyTooLarge
		}
		return out, err
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readCapped(zr)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// readCapped reads r fully, failing once it yields more than maxBodySize bytes.
func readCapped(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxBodySize {
		return nil, errBodyTooLarge
	}
	return b, nil
}

// statusError turns a non-2xx response into a TransportError, preferring the
// message carried in the error body.
func (c *Client) statusError(status int, body []byte, fallback string) error {
	msg := fallback

	p := c.parser.Get()
	defer c.parser.Put(p)
	if v, err := p.ParseBytes(body); err == nil {
		if m := strings.TrimSpace(string(v.GetStringBytes("message"))); m != "" {
			msg = m
		}
	}

	return &TransportError{Status: status, Message: msg}
}

// idString normalizes an identifier that may be encoded as a JSON string or number.
func idString(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return strings.TrimSpace(string(v.GetStringBytes()))
	case fastjson.TypeNumber:
		return v.String()
	default:
		return ""
	}
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &TransportError{Message: "invalid request", Err: err}
	}
	return req, nil
}
