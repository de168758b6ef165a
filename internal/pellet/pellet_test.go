package pellet

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "feedbot/pkg/logx"
)

func TestCountPostsMultipartImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "jpegbytes", string(b))
		assert.Equal(t, "bowl.jpg", hdr.Filename)
		_, _ = io.WriteString(w, `{"pellet_count": 42}`)
	}))
	defer srv.Close()

	c, err := NewHTTP(srv.URL, time.Second, srv.Client(), logx.Nop())
	require.NoError(t, err)
	n, err := c.Count(context.Background(), strings.NewReader("jpegbytes"), "/tmp/bowl.jpg")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestCountErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"service error", http.StatusBadRequest, `{"error": "no image provided"}`, "no image provided"},
		{"missing count", http.StatusOK, `{}`, "missing pellet_count"},
		{"bad status", http.StatusBadGateway, `{"pellet_count": 3}`, "returned 502"},
		{"garbage", http.StatusOK, `nope`, "undecodable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			c, err := NewHTTP(srv.URL, time.Second, srv.Client(), logx.Nop())
			require.NoError(t, err)
			_, err = c.Count(context.Background(), strings.NewReader("x"), "a.png")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCountRejectsBadInput(t *testing.T) {
	_, err := NewHTTP("not a url", 0, nil, logx.Nop())
	require.Error(t, err)

	c, err := NewHTTP("http://127.0.0.1:1/count", 0, nil, logx.Nop())
	require.NoError(t, err)
	_, err = c.Count(context.Background(), strings.NewReader(""), "a.jpg")
	require.ErrorIs(t, err, ErrEmptyImage)

	_, err = Disabled{}.Count(context.Background(), strings.NewReader("x"), "a.jpg")
	require.ErrorIs(t, err, ErrNotConfigured)
}
