package mathpix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refrab/refrab/internal/core/ports/driven"
)

func newTestConverter(t *testing.T, handler http.Handler) *Converter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		AppID:        "app",
		AppKey:       "key",
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
	})
}

func TestConvertUploadsPollsAndFetchesMarkdown(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app", r.Header.Get("app_id"))
		assert.Equal(t, "key", r.Header.Get("app_key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		file.Close()
		assert.Contains(t, r.FormValue("options_json"), "conversion_formats")

		w.Write([]byte(`{"pdf_id":"pdf-123"}`))
	})
	mux.HandleFunc("GET /v3/pdf/pdf-123", func(w http.ResponseWriter, _ *http.Request) {
		polls++
		if polls == 1 {
			w.Write([]byte(`{"status":"split"}`))
			return
		}
		w.Write([]byte(`{"status":"completed","num_pages":4}`))
	})
	mux.HandleFunc("GET /v3/pdf/pdf-123.md", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# Title\n\n$E = mc^2$\n"))
	})

	c := newTestConverter(t, mux)

	result, err := c.Convert(context.Background(), []byte("%PDF-1.7 data"), driven.ConvertOptions{})
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\n$E = mc^2$\n", result.Text)
	assert.Equal(t, 4, result.PageCount)
	assert.True(t, result.Confident)
	assert.Equal(t, 2, polls, "the first poll must not fetch markdown yet")
}

func TestConvertConversionError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pdf_id":"pdf-123"}`))
	})
	mux.HandleFunc("GET /v3/pdf/pdf-123", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"error","error":"corrupt pdf"}`))
	})

	c := newTestConverter(t, mux)

	_, err := c.Convert(context.Background(), []byte("not a pdf"), driven.ConvertOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversion failed")
	assert.Contains(t, err.Error(), "corrupt pdf")
}

func TestConvertUploadRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error":"invalid credentials"}`))
	})

	c := newTestConverter(t, mux)

	_, err := c.Convert(context.Background(), []byte("%PDF-1.7 data"), driven.ConvertOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestName(t *testing.T) {
	assert.Equal(t, driven.ConverterMathOCR, New(Config{}).Name())
}
