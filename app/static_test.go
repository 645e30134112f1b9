package roomchat

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStaticHandler(t *testing.T) (*StaticFS, http.Handler) {
	fsys := fstest.MapFS{
		"index.html":    {Data: []byte("<html>roomchat</html>")},
		"assets/app.js": {Data: []byte("console.log('roomchat')")},
	}
	s, err := NewStaticFS(fsys, "index.html", map[string]string{
		"assets/*": "public, max-age=31536000, immutable",
		"*.html":   "no-cache",
	})
	require.Nil(t, err)
	return s, s.EtagMiddleware()(http.FileServer(s))
}

func getStatic(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaticFS(t *testing.T) {
	s, h := newTestStaticHandler(t)

	t.Run("asset", func(t *testing.T) {
		rec := getStatic(h, "/assets/app.js", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, s.etags["assets/app.js"], rec.Header().Get("Etag"))
		assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
		body, _ := io.ReadAll(rec.Body)
		assert.Equal(t, "console.log('roomchat')", string(body))
	})

	t.Run("unknown path falls back to index", func(t *testing.T) {
		rec := getStatic(h, "/rooms/a|b", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, s.etags["index.html"], rec.Header().Get("Etag"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		body, _ := io.ReadAll(rec.Body)
		assert.Equal(t, "<html>roomchat</html>", string(body))
	})

	t.Run("not modified", func(t *testing.T) {
		rec := getStatic(h, "/assets/app.js", http.Header{"If-None-Match": {s.etags["assets/app.js"]}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})
}

func TestStaticFSRequiresFallback(t *testing.T) {
	_, err := NewStaticFS(fstest.MapFS{"app.js": {Data: []byte("x")}}, "index.html", nil)
	assert.NotNil(t, err)
}
