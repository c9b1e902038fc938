package objstore

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRegion is used for request signing when no region is configured.
const DefaultRegion = "us-east-1"

// DefaultRequestTimeout bounds every remote request.
const DefaultRequestTimeout = 30 * time.Second

// S3Config configures an S3Client.
type S3Config struct {
	Endpoint     string // e.g. "https://s3.us-east-1.amazonaws.com" or "http://localhost:9000"
	Region       string
	AccessKey    string // Empty for anonymous requests
	SecretKey    string
	SessionToken string
	PathStyle    bool          // Address buckets as /{bucket}/{key} instead of {bucket}.host
	Timeout      time.Duration // Per-request timeout (default 30s)
	HTTPClient   *http.Client  // Optional, overrides Timeout
	Metrics      *RemoteMetrics
	Logger       zerolog.Logger
}

// S3Client is a RemoteStore speaking the S3 REST API over HTTP.
type S3Client struct {
	endpoint  *url.URL
	pathStyle bool
	signer    signer
	client    *http.Client
	metrics   *RemoteMetrics
	logger    zerolog.Logger
	now       func() time.Time
}

var _ RemoteStore = (*S3Client)(nil)

// NewS3Client creates a new S3 client.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme must be http or https, got %q", endpoint.Scheme)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", cfg.Endpoint)
	}
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/")

	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &S3Client{
		endpoint:  endpoint,
		pathStyle: cfg.PathStyle,
		signer:    newSigner(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken, region),
		client:    client,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// S3Error is a non-success response from the S3 endpoint.
type S3Error struct {
	Operation  string
	Bucket     string
	Key        string
	StatusCode int
	Code       string // S3 error code from the XML body, if any
	Message    string
}

func (e *S3Error) Error() string {
	msg := fmt.Sprintf("%s %s/%s: status %d", e.Operation, e.Bucket, e.Key, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap maps the response status onto an error kind.
func (e *S3Error) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return ErrInvalidRange
	case e.StatusCode >= 500:
		return ErrRemoteUnavailable
	}
	return nil
}

// errorResponse is the XML error body returned by S3 endpoints.
type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// listBucketResult is the subset of a ListObjectsV2 response bucketfs uses.
type listBucketResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

// HeadSize returns the object's Content-Length.
func (c *S3Client) HeadSize(ctx context.Context, bucket, key string) (int64, error) {
	if bucket == "" || key == "" {
		return 0, fmt.Errorf("head %q/%q: %w", bucket, key, ErrInvalidName)
	}
	resp, err := c.do(ctx, "HeadObject", http.MethodHead, bucket, key, nil, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		size, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("head %s/%s: invalid Content-Length %q", bucket, key, cl)
		}
		return size, nil
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("head %s/%s: missing Content-Length", bucket, key)
	}
	return resp.ContentLength, nil
}

// FetchRange issues a ranged GET for [start, end).
func (c *S3Client) FetchRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("get %q/%q: %w", bucket, key, ErrInvalidName)
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("get %s/%s [%d,%d): %w", bucket, key, start, end, ErrInvalidRange)
	}
	if start == end {
		return []byte{}, nil
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	resp, err := c.do(ctx, "GetObject", http.MethodGet, bucket, key, nil, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	want := end - start
	if resp.StatusCode == http.StatusOK {
		// The endpoint ignored the Range header and sent the whole object.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, fmt.Errorf("get %s/%s: skip to %d: %w: %w", bucket, key, start, ErrRemoteUnavailable, err)
		}
	}
	data := make([]byte, want)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("get %s/%s [%d,%d): %w: %w", bucket, key, start, end, ErrRemoteUnavailable, err)
	}
	c.metrics.RecordFetch(len(data))
	return data, nil
}

// ListPrefix lists one page of keys under prefix with ListObjectsV2.
func (c *S3Client) ListPrefix(ctx context.Context, bucket, prefix string, maxResults int) ([]string, error) {
	if bucket == "" {
		return nil, fmt.Errorf("list %q: %w", bucket, ErrInvalidName)
	}
	query := url.Values{}
	query.Set("list-type", "2")
	if prefix != "" {
		query.Set("prefix", prefix)
	}
	if maxResults > 0 {
		query.Set("max-keys", strconv.Itoa(maxResults))
	}

	resp, err := c.do(ctx, "ListObjectsV2", http.MethodGet, bucket, "", query, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("list %s prefix %q: decode response: %w", bucket, prefix, err)
	}

	keys := make([]string, 0, len(result.Contents))
	for _, obj := range result.Contents {
		keys = append(keys, obj.Key)
	}
	if result.IsTruncated {
		c.logger.Debug().
			Str("bucket", bucket).
			Str("prefix", prefix).
			Int("keys", len(keys)).
			Msg("Listing truncated to a single page")
	}
	return keys, nil
}

// requestTarget returns the request URL with bucket and key escaped.
func (c *S3Client) requestTarget(bucket, key string, query url.Values) string {
	host := c.endpoint.Host
	var escapedPath string
	if c.pathStyle {
		escapedPath = c.endpoint.Path + "/" + escapeKey(bucket, true)
		if key != "" {
			escapedPath += "/" + escapeKey(key, false)
		}
	} else {
		host = bucket + "." + host
		escapedPath = c.endpoint.Path + "/" + escapeKey(key, false)
	}

	target := c.endpoint.Scheme + "://" + host + escapedPath
	if q := encodeQuery(query); q != "" {
		target += "?" + q
	}
	return target
}

// do sends a request and converts transport failures and non-2xx
// responses into errors. The caller closes the body of a returned response.
func (c *S3Client) do(ctx context.Context, operation, method, bucket, key string, query url.Values, header http.Header) (*http.Response, error) {
	target := c.requestTarget(bucket, key, query)
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %s/%s: build request: %w", operation, bucket, key, err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if c.signer.enabled() {
		if err := c.signer.sign(ctx, req, c.now()); err != nil {
			return nil, fmt.Errorf("%s %s/%s: sign request: %w", operation, bucket, key, err)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.RecordRequest(operation, classifyStatus(status, err), time.Since(start).Seconds())

	if err != nil {
		c.logger.Debug().Err(err).Str("op", operation).Str("bucket", bucket).Str("key", key).Msg("Remote request failed")
		return nil, fmt.Errorf("%s %s/%s: %w: %w", operation, bucket, key, ErrRemoteUnavailable, err)
	}
	if status >= 200 && status < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	s3err := &S3Error{
		Operation:  operation,
		Bucket:     bucket,
		Key:        key,
		StatusCode: status,
	}
	if method != http.MethodHead {
		var body errorResponse
		if err := xml.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
			s3err.Code = body.Code
			s3err.Message = body.Message
		}
	}
	if status == http.StatusNotFound && s3err.Code == "NoSuchBucket" {
		c.logger.Debug().Str("bucket", bucket).Msg("Bucket does not exist")
	}
	return nil, s3err
}

// IsS3Code reports whether err is an S3Error carrying the given S3 error code.
func IsS3Code(err error, code string) bool {
	var s3err *S3Error
	return errors.As(err, &s3err) && s3err.Code == code
}
