package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeKeyResource = "projects/checkout/secrets/stripe_secret_key/versions/latest"

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	value, ok := f.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func TestResolveCachesStripeKey(t *testing.T) {
	client := newFakeSecretClient()
	client.values[stripeKeyResource] = "sk_live_remote"
	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("checkout"))

	for i := 0; i < 3; i++ {
		got, err := fetcher.Resolve(context.Background(), "secret://stripe_secret_key")
		require.NoError(t, err)
		assert.Equal(t, "sk_live_remote", got)
	}
	assert.Equal(t, 1, client.callCount(stripeKeyResource))
}

func TestResolveVersionAndProjectOverrides(t *testing.T) {
	client := newFakeSecretClient()
	pinned := "projects/payments-prod/secrets/stripe_secret_key/versions/5"
	client.values[pinned] = "sk_live_v5"
	client.values[stripeKeyResource] = "sk_live_latest"
	fetcher := newTestFetcher(t, WithSecretManagerClient(client), WithDefaultProject("checkout"))

	got, err := fetcher.ResolveSecret(context.Background(), "secret://stripe_secret_key?version=5&project=payments-prod")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_v5", got)

	got, err = fetcher.Resolve(context.Background(), "secret://stripe_secret_key")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_latest", got, "versions are cached separately")
}

func TestResolveFallback(t *testing.T) {
	fallback := "# local development\nsecret://stripe_secret_key=sk_test_local\n"

	t.Run("used when secret manager denies access", func(t *testing.T) {
		client := newFakeSecretClient()
		client.errs[stripeKeyResource] = status.Error(codes.PermissionDenied, "denied")
		fetcher := newTestFetcher(t,
			WithSecretManagerClient(client),
			WithDefaultProject("checkout"),
			WithFallbackFile(writeFallback(t, fallback)),
		)
		got, err := fetcher.Resolve(context.Background(), "secret://stripe_secret_key")
		require.NoError(t, err)
		assert.Equal(t, "sk_test_local", got)
	})

	t.Run("not used when the secret is missing remotely", func(t *testing.T) {
		client := newFakeSecretClient()
		fetcher := newTestFetcher(t,
			WithSecretManagerClient(client),
			WithDefaultProject("checkout"),
			WithFallbackFile(writeFallback(t, fallback)),
		)
		_, err := fetcher.Resolve(context.Background(), "secret://stripe_secret_key")
		require.Error(t, err)
		st, ok := status.FromError(errors.Unwrap(err))
		require.True(t, ok, "remote status survives wrapping")
		assert.Equal(t, codes.NotFound, st.Code())
	})

	t.Run("used without credentials", func(t *testing.T) {
		original := secretManagerClientFactory
		secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
			return nil, errors.New("no credentials")
		}
		t.Cleanup(func() { secretManagerClientFactory = original })

		fetcher := newTestFetcher(t, WithFallbackFile(writeFallback(t, fallback)))
		got, err := fetcher.Resolve(context.Background(), "secret://stripe_secret_key")
		require.NoError(t, err)
		assert.Equal(t, "sk_test_local", got)
	})
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher := newTestFetcher(t, WithSecretManagerClient(newFakeSecretClient()))
	for _, ref := range []string{"", "https://example.com/key", "secret://"} {
		_, err := fetcher.Resolve(context.Background(), ref)
		assert.Error(t, err, "ref %q", ref)
	}
}
