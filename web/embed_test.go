package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":         {Data: []byte("<html>app</html>")},
		"assets/app-1a2b.js": {Data: []byte("console.log(1)")},
		"favicon.ico":        {Data: []byte("ico")},
	}
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSPAHandlerServesFiles(t *testing.T) {
	h := newSPAHandler(testFS())

	rec := get(h, "/assets/app-1a2b.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	rec = get(h, "/favicon.ico")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestSPAHandlerFallsBackToIndex(t *testing.T) {
	h := newSPAHandler(testFS())

	for _, target := range []string{"/", "/crisis/12", "/guides/3/step/2"} {
		rec := get(h, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "<html>app</html>", rec.Body.String(), target)
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"), target)
	}
}

func TestSPAHandlerDoesNotMaskAPI(t *testing.T) {
	h := newSPAHandler(testFS())

	rec := get(h, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Not found"}`, rec.Body.String())
}

func TestEmbeddedBundleHasIndex(t *testing.T) {
	rec := get(SPAHandler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<div id=\"root\">")
}
