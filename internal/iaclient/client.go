// Package iaclient implements the Internet Archive S3 dialect: authenticated
// PUT uploads with x-archive metadata headers, read-side metadata queries for
// existence verification, and the out-of-band metadata patch endpoint.
//
// Reference: https://archive.org/developers/ias3.html
package iaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/archive"
)

// defaultMetadata is the fixed descriptive set attached to every upload.
// Caller-supplied fields override these on key conflict.
var defaultMetadata = []struct{ key, value string }{
	{"mediatype", "texts"},
	{"subject", "Ming Pao Canada; Archive; News; Hong Kong"},
	{"collection", "opensource"},
}

// Config holds endpoint and credential settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string

	// UploadRetries bounds retries on transient upload failures.
	UploadRetries int
	// VerifyRetries bounds read-side polling for a just-written file.
	VerifyRetries int
	// MetadataRetries bounds attempts on the metadata patch endpoint.
	MetadataRetries int
}

// Client talks to the IA S3 endpoints. It never leaks transport errors:
// every operation resolves to a boolean (or an error only where callers can
// act on one).
type Client struct {
	cfg         Config
	httpClient  *http.Client
	uploadRetry archive.RetryPolicy
	verifyRetry archive.RetryPolicy
	patchRetry  archive.RetryPolicy
	logger      *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://s3.us.archive.org"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.UploadRetries <= 0 {
		cfg.UploadRetries = 3
	}
	if cfg.VerifyRetries <= 0 {
		cfg.VerifyRetries = 5
	}
	if cfg.MetadataRetries <= 0 {
		cfg.MetadataRetries = 2
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		uploadRetry: archive.NewRetryPolicy(cfg.UploadRetries, archive.ExponentialBackoff(time.Second, time.Second)),
		// The store is eventually consistent; reads trail writes by seconds
		// to tens of seconds.
		verifyRetry: archive.NewRetryPolicy(cfg.VerifyRetries, archive.LinearBackoff(2*time.Second)),
		patchRetry:  archive.NewRetryPolicy(cfg.MetadataRetries, archive.ExponentialBackoff(time.Second, time.Second)),
		logger:      logger,
	}
}

func (c *Client) authHeader() string {
	return fmt.Sprintf("LOW %s:%s", c.cfg.AccessKey, c.cfg.SecretKey)
}

// UploadFile PUTs content to {endpoint}/{bucket}/{key}. The bucket is
// sanitized, default metadata is merged under caller overrides, and non-ASCII
// metadata values are percent-encoded for header transport. Returns true only
// on HTTP 200; transient failures (network, 5xx) are retried with backoff.
func (c *Client) UploadFile(
	ctx context.Context,
	bucket, key string,
	content []byte,
	contentType string,
	meta map[string]string,
) bool {
	bucket = archive.SanitizeIdentifier(bucket)
	if contentType == "" {
		contentType = "text/html"
	}
	target := fmt.Sprintf("%s/%s/%s", c.cfg.Endpoint, bucket, key)

	headers := map[string]string{
		"Authorization":              c.authHeader(),
		"Content-Type":               contentType,
		"x-archive-auto-make-bucket": "1",
	}
	for _, d := range defaultMetadata {
		headers["x-archive-meta-"+d.key] = encodeMetaValue(d.value)
	}
	for k, v := range meta {
		name := k
		if !strings.HasPrefix(name, "x-archive-meta-") {
			name = "x-archive-meta-" + name
		}
		headers[name] = encodeMetaValue(v)
	}

	for attempt := 0; attempt < c.uploadRetry.Attempts(); attempt++ {
		ok, retryable := c.putOnce(ctx, target, key, bucket, content, headers, attempt)
		if ok {
			return true
		}
		if !retryable {
			return false
		}
		if attempt < c.uploadRetry.MaxRetries {
			if err := c.uploadRetry.Wait(ctx, attempt); err != nil {
				return false
			}
		}
	}

	c.logger.Error("upload failed after retries",
		zap.String("bucket", bucket), zap.String("key", key),
		zap.Int("attempts", c.uploadRetry.Attempts()))
	return false
}

func (c *Client) putOnce(
	ctx context.Context,
	target, key, bucket string,
	content []byte,
	headers map[string]string,
	attempt int,
) (ok, retryable bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(content))
	if err != nil {
		c.logger.Error("build upload request", zap.String("key", key), zap.Error(err))
		return false, false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, false
		}
		c.logger.Warn("upload attempt failed",
			zap.String("key", key), zap.Int("attempt", attempt+1), zap.Error(err))
		return false, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, false
	case resp.StatusCode >= 500:
		// The IA S3 frontend answers 500 under item lock contention.
		c.logger.Warn("upload attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode))
		return false, true
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("upload rejected",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return false, false
	}
}

// encodeMetaValue percent-encodes metadata values that are not plain ASCII,
// using the IA uri() wrapper convention.
func encodeMetaValue(v string) string {
	ascii := true
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			ascii = false
			break
		}
	}
	if ascii {
		return v
	}
	return "uri(" + url.PathEscape(v) + ")"
}

// BucketExists probes {endpoint}/{bucket} with a HEAD request. A non-200
// answer means the bucket is absent; the error is non-nil only when the
// endpoint itself could not be reached.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	target := fmt.Sprintf("%s/%s", c.cfg.Endpoint, archive.SanitizeIdentifier(bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, fmt.Errorf("build bucket probe: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe bucket %s: %w", bucket, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// RemoteFile is one file listed in an item's metadata document.
type RemoteFile struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Title  string `json:"title"`
}

type metadataDocument struct {
	Files []RemoteFile `json:"files"`
}

// ListBucketFiles fetches the read-side metadata document for an item and
// returns the files it lists. Used by verification and the catch-up scan.
func (c *Client) ListBucketFiles(ctx context.Context, bucket string) ([]RemoteFile, error) {
	target := fmt.Sprintf("%s/metadata/%s", c.cfg.Endpoint, archive.SanitizeIdentifier(bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch item metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("item metadata returned status %d", resp.StatusCode)
	}

	var doc metadataDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode item metadata: %w", err)
	}
	return doc.Files, nil
}

// VerifyFileUploaded polls the metadata document until key appears, bounded
// by the verify retry policy. False means the file never became visible
// within the polling budget, not that the upload failed.
func (c *Client) VerifyFileUploaded(ctx context.Context, bucket, key string) bool {
	for attempt := 0; attempt < c.verifyRetry.Attempts(); attempt++ {
		files, err := c.ListBucketFiles(ctx, bucket)
		if err == nil {
			for _, f := range files {
				if f.Name == key {
					return true
				}
			}
		} else {
			c.logger.Debug("verify poll failed",
				zap.String("bucket", bucket), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if attempt < c.verifyRetry.MaxRetries {
			if err := c.verifyRetry.Wait(ctx, attempt); err != nil {
				return false
			}
		}
	}
	return false
}

// UpdateFileMetadata applies a best-effort title patch to an already-uploaded
// file via the metadata write API. Every terminal branch resolves soft: the
// boolean is a logging signal only and must never be treated as reversing an
// archive that already happened.
func (c *Client) UpdateFileMetadata(ctx context.Context, bucket, filename, title string) bool {
	target := fmt.Sprintf("%s/metadata/%s", c.cfg.Endpoint, archive.SanitizeIdentifier(bucket))

	patch, err := json.Marshal([]map[string]string{
		{"op": "add", "path": "/title", "value": title},
	})
	if err != nil {
		return false
	}

	form := url.Values{}
	form.Set("-patch", string(patch))
	form.Set("-target", "files/"+filename)
	form.Set("access", c.cfg.AccessKey)
	form.Set("secret", c.cfg.SecretKey)

	for attempt := 0; attempt < c.patchRetry.Attempts(); attempt++ {
		done, ok := c.patchOnce(ctx, target, filename, form, attempt)
		if done {
			return ok
		}
		if attempt < c.patchRetry.MaxRetries {
			if err := c.patchRetry.Wait(ctx, attempt); err != nil {
				return false
			}
		}
	}
	return false
}

func (c *Client) patchOnce(
	ctx context.Context,
	target, filename string,
	form url.Values,
	attempt int,
) (done, ok bool) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return true, false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("metadata patch attempt failed",
			zap.String("file", filename), zap.Int("attempt", attempt+1), zap.Error(err))
		return false, false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			// Malformed response; nothing further to do.
			return true, false
		}
		if result.Success {
			return true, true
		}
		// "no changes" and similar soft rejections land here.
		c.logger.Debug("metadata patch not applied",
			zap.String("file", filename), zap.String("reason", result.Error))
		return true, false
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Debug("metadata patch attempt failed",
			zap.String("file", filename),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode))
		return false, false
	default:
		// Item not indexed yet or request rejected outright.
		return true, false
	}
}
