package objstore

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/smithy-go/encoding/httpbinding"
)

// emptyPayloadHash is the SHA-256 of an empty body. Every request the client
// sends is a bodiless GET or HEAD.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// signer adds AWS Signature Version 4 headers to S3 requests.
type signer struct {
	credentials aws.Credentials
	region      string
	v4          *v4.Signer
}

func newSigner(accessKey, secretKey, sessionToken, region string) signer {
	return signer{
		credentials: aws.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			SessionToken:    sessionToken,
		},
		region: region,
		// S3 signs the path exactly as sent; it is escaped once by escapeKey.
		v4: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = true
		}),
	}
}

func (s signer) enabled() bool {
	return s.credentials.AccessKeyID != "" && s.credentials.SecretAccessKey != ""
}

// sign sets X-Amz-Content-Sha256 and lets the SDK signer add X-Amz-Date,
// X-Amz-Security-Token and Authorization.
func (s signer) sign(ctx context.Context, req *http.Request, now time.Time) error {
	req.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)
	return s.v4.SignHTTP(ctx, s.credentials, req, emptyPayloadHash, "s3", s.region, now.UTC())
}

// escapeKey percent-encodes every byte outside the RFC 3986 unreserved set.
// Slashes are kept when encodeSlash is false so object keys keep their
// path structure.
func escapeKey(s string, encodeSlash bool) string {
	return httpbinding.EscapePath(s, encodeSlash)
}

// encodeQuery encodes query sorted by key with spaces as %20.
func encodeQuery(query url.Values) string {
	return strings.ReplaceAll(query.Encode(), "+", "%20")
}
