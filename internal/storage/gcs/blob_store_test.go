package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type uploadRecorder struct {
	mu    sync.Mutex
	names []string
	body  string
}

func newTestServer(t *testing.T, rec *uploadRecorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/upload/storage/v1/b/test-bucket/o"):
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			name := r.URL.Query().Get("name")
			rec.mu.Lock()
			rec.names = append(rec.names, name)
			rec.body = string(body)
			rec.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"bucket":"test-bucket","name":%q}`, name)
		case strings.HasSuffix(r.URL.Path, "/b/test-bucket"):
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"name":"test-bucket"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://127.0.0.1:1"))
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{}
	srv := newTestServer(t, rec)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "/runs/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "run-1/page_0.md", "text/markdown", strings.NewReader("# hello"))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/runs/run-1/page_0.md", uri)
	require.Equal(t, []string{"runs/run-1/page_0.md"}, rec.names)
	require.Contains(t, rec.body, "# hello")

	_, err = store.PutObject(context.Background(), "", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
	require.NoError(t, store.Close())
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &uploadRecorder{})
	opts := []option.ClientOption{option.WithEndpoint(srv.URL), option.WithoutAuthentication()}

	store, err := Open(context.Background(), Config{Bucket: "test-bucket"}, nil, opts...)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), Config{Bucket: "missing"}, nil, opts...)
	require.ErrorContains(t, err, `gcs bucket "missing"`)
}
