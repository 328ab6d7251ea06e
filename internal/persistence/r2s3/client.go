// Package r2s3 uploads finished exports to an S3-compatible bucket (R2)
// with SigV4-signed path-style PUTs.
package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string // "auto" when empty
}

type Client struct {
	endpoint   string
	bucket     string
	httpClient *http.Client
	signer     *signer
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	keyID := strings.TrimSpace(cfg.AccessKeyID)
	secret := strings.TrimSpace(cfg.SecretAccessKey)
	if endpoint == "" || bucket == "" || keyID == "" || secret == "" {
		return nil, fmt.Errorf("r2: endpoint, bucket and credentials are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("r2: endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("r2: bad endpoint %q", cfg.Endpoint)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}
	return &Client{
		endpoint: u.Scheme + "://" + u.Host,
		bucket:   bucket,
		// Exports can be large; the per-call ctx bounds the upload instead.
		httpClient: &http.Client{},
		signer:     newSigner(keyID, secret, region),
	}, nil
}

// ContentType returns the media type uploaded for a file name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".obj":
		return "model/obj"
	case ".mtl":
		return "model/mtl"
	case ".zst":
		return "application/zstd"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// validKey reports whether key is a clean relative object key.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Put stores size bytes of body under key. body is read twice: once for the
// payload hash, then for the request.
func (c *Client) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	if !validKey(key) {
		return fmt.Errorf("r2: bad object key %q", key)
	}
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}

	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	uri := "/" + url.PathEscape(c.bucket) + "/" + strings.Join(segs, "/")
	var rb io.Reader = http.NoBody
	if size > 0 {
		rb = io.NopCloser(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uri, rb)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", ContentType(key))
	c.signer.sign(req, uri, hex.EncodeToString(h.Sum(nil)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("r2: put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(msg)))
}
