package adapters

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// bedrockService is the SigV4 signing name for bedrock-runtime.
const bedrockService = "bedrock"

// signingTransport is an http.RoundTripper that signs requests with AWS SigV4.
type signingTransport struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	base        http.RoundTripper
}

func newSigningTransport(credentials aws.CredentialsProvider, region string, base http.RoundTripper) *signingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &signingTransport{
		credentials: credentials,
		region:      region,
		signer:      v4.NewSigner(),
		base:        base,
	}
}

// RoundTrip signs a copy of req before sending it.
func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
	}

	creds, err := t.credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))

	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))
	if err := t.signer.SignHTTP(req.Context(), creds, signed, payloadHash, bedrockService, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to sign Bedrock request: %w", err)
	}
	return t.base.RoundTrip(signed)
}

// defaultCredentials loads the standard AWS credential chain on first use,
// so building a Bedrock adapter never touches the environment.
func defaultCredentials(region string) aws.CredentialsProvider {
	var (
		once sync.Once
		prov aws.CredentialsProvider
		err  error
	)
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		once.Do(func() {
			var cfg aws.Config
			cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
			if err == nil {
				prov = cfg.Credentials
			}
		})
		if err != nil {
			return aws.Credentials{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if prov == nil {
			return aws.Credentials{}, fmt.Errorf("no AWS credentials configured")
		}
		return prov.Retrieve(ctx)
	})
}
