package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VoxFM/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPProviderNilWhenUnconfigured(t *testing.T) {
	p := NewHTTPProvider(&config.Config{})
	assert.Nil(t, p)
}

func TestHTTPProviderTranscribe(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.flac", header.Filename)
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "hello there",
			"language": "en",
			"segments": [{"start": 0, "end": 1.2, "text": "hello there"}],
			"words": [{"start": 0, "end": 0.5, "word": "hello"}, {"start": 0.6, "end": 1.2, "word": "there"}]
		}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(&config.Config{
		STTAPIURL:  srv.URL,
		STTAPIKey:  "k123",
		STTTimeout: 5 * time.Second,
	})
	require.NotNil(t, p)

	result, err := p.Transcribe(context.Background(), []byte("fake-audio"), "audio/flac")
	require.NoError(t, err)

	assert.Equal(t, "Bearer k123", gotAuth)
	assert.Equal(t, "hello there", result.Text)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, 1.2, result.Segments[0].End)
	require.Len(t, result.Words, 2)
	assert.Equal(t, "there", result.Words[1].Word)
}

func TestHTTPProviderSurfacesBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(&config.Config{STTAPIURL: srv.URL, STTTimeout: 5 * time.Second})
	_, err := p.Transcribe(context.Background(), []byte("x"), "audio/mpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
