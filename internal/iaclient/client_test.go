package iaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/archive"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		Endpoint:  srv.URL,
		AccessKey: "ak",
		SecretKey: "sk",
	}, zap.NewNop())
	// Tests must not sleep through real backoff windows.
	c.uploadRetry = archive.NewRetryPolicy(3, archive.ExponentialBackoff(time.Millisecond, 0))
	c.verifyRetry = archive.NewRetryPolicy(2, archive.LinearBackoff(time.Millisecond))
	c.patchRetry = archive.NewRetryPolicy(2, archive.ExponentialBackoff(time.Millisecond, 0))
	return c, srv
}

func TestUploadFile_Success(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got *http.Request
	)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Clone(context.Background())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	ok := c.UploadFile(context.Background(), "Ming Pao 2025-01", "20250101/HK-gaa1_r.htm",
		[]byte("<html></html>"), "text/html", map[string]string{
			"originalurl": "https://example.com/a",
			"subject":     "override wins",
		})
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	require.Equal(t, http.MethodPut, got.Method)
	// Bucket sanitized into the path.
	require.Equal(t, "/ming-pao-2025-01/20250101/HK-gaa1_r.htm", got.URL.Path)
	require.Equal(t, "LOW ak:sk", got.Header.Get("Authorization"))
	require.Equal(t, "1", got.Header.Get("x-archive-auto-make-bucket"))
	require.Equal(t, "texts", got.Header.Get("x-archive-meta-mediatype"))
	// Caller override beats the default subject.
	require.Equal(t, "override wins", got.Header.Get("x-archive-meta-subject"))
	require.Equal(t, "https://example.com/a", got.Header.Get("x-archive-meta-originalurl"))
}

func TestUploadFile_EncodesNonASCIIMetadata(t *testing.T) {
	t.Parallel()
	var header string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("x-archive-meta-title")
		w.WriteHeader(http.StatusOK)
	}))

	ok := c.UploadFile(context.Background(), "b", "k", nil, "text/html",
		map[string]string{"title": "明報標題"})
	require.True(t, ok)
	require.True(t, strings.HasPrefix(header, "uri("))
	require.True(t, strings.HasSuffix(header, ")"))
	require.NotContains(t, header, "明")
}

func TestUploadFile_RetriesOn500(t *testing.T) {
	t.Parallel()
	attempts := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.True(t, c.UploadFile(context.Background(), "b", "k", nil, "text/html", nil))
	require.Equal(t, 3, attempts)
}

func TestUploadFile_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	require.False(t, c.UploadFile(context.Background(), "b", "k", nil, "text/html", nil))
	require.Equal(t, 4, attempts)
}

func TestUploadFile_RejectedStatusIsTerminal(t *testing.T) {
	t.Parallel()
	attempts := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))

	require.False(t, c.UploadFile(context.Background(), "b", "k", nil, "text/html", nil))
	require.Equal(t, 1, attempts)
}

func TestBucketExists(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/present" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	ok, err := c.BucketExists(context.Background(), "present")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.BucketExists(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBucketExists_NetworkError(t *testing.T) {
	t.Parallel()
	c := New(Config{Endpoint: "http://127.0.0.1:1", AccessKey: "a", SecretKey: "s"}, zap.NewNop())
	ok, err := c.BucketExists(context.Background(), "b")
	require.Error(t, err)
	require.False(t, ok)
}

func TestVerifyFileUploaded_EventualConsistency(t *testing.T) {
	t.Parallel()
	polls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls++
		doc := metadataDocument{}
		if polls >= 2 {
			doc.Files = []RemoteFile{{Name: "20250101/HK-gaa1_r.htm"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	}))

	require.True(t, c.VerifyFileUploaded(context.Background(), "b", "20250101/HK-gaa1_r.htm"))
	require.Equal(t, 2, polls)
}

func TestVerifyFileUploaded_NeverVisible(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(metadataDocument{}))
	}))

	require.False(t, c.VerifyFileUploaded(context.Background(), "b", "nope"))
}

func TestListBucketFiles(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/b", r.URL.Path)
		_, _ = w.Write([]byte(`{"files":[{"name":"a.htm","title":"A"},{"name":"b.htm"}]}`))
	}))

	files, err := c.ListBucketFiles(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "a.htm", files[0].Name)
	require.Equal(t, "A", files[0].Title)
	require.Empty(t, files[1].Title)
}

func TestUpdateFileMetadata_Success(t *testing.T) {
	t.Parallel()
	var form map[string][]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	require.True(t, c.UpdateFileMetadata(context.Background(), "b", "a.htm", "New Title"))
	require.Equal(t, "files/a.htm", form["-target"][0])
	require.Equal(t, "ak", form["access"][0])
	require.Contains(t, form["-patch"][0], "New Title")
}

func TestUpdateFileMetadata_SoftFailures(t *testing.T) {
	t.Parallel()
	cases := map[string]http.HandlerFunc{
		"not indexed yet": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"soft rejection": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error":"no changes to _meta.xml"}`))
		},
		"malformed body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"rate limited": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
	}

	for name, handler := range cases {
		c, _ := newTestClient(t, handler)
		// Every terminal branch resolves soft: false, no panic, no error.
		require.False(t, c.UpdateFileMetadata(context.Background(), "b", "a.htm", "T"), name)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	c := New(Config{AccessKey: "a", SecretKey: "s"}, zap.NewNop())
	require.Equal(t, "https://s3.us.archive.org", c.cfg.Endpoint)
	require.Equal(t, 4, c.uploadRetry.Attempts())
	require.Equal(t, 6, c.verifyRetry.Attempts())
}
