package storageadapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadPutsBothArtifactsAndReturnsURLs(t *testing.T) {
	var gotPaths []string
	var gotAccessKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		gotAccessKey = r.Header.Get("AccessKey")
		body, _ := io.ReadAll(r.Body)
		require.NotEmpty(t, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	finalPath := writeTempFile(t, dir, "final.mp4", "video bytes")
	thumbPath := writeTempFile(t, dir, "thumb.jpg", "thumb bytes")

	adapter := New(server.URL, "production", "secret-key", "", "", "")
	finalURL, thumbURL, err := adapter.Upload(context.Background(), "render-1", finalPath, thumbPath, "pub-123")

	require.NoError(t, err)
	require.Equal(t, server.URL+"/production/renders/videos/pub-123.mp4", finalURL)
	require.Equal(t, server.URL+"/production/renders/thumbs/pub-123.jpg", thumbURL)
	require.Equal(t, "secret-key", gotAccessKey)
	require.ElementsMatch(t, []string{"/production/renders/videos/pub-123.mp4", "/production/renders/thumbs/pub-123.jpg"}, gotPaths)
}

func TestUploadUsesCDNBaseURLWhenConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	finalPath := writeTempFile(t, dir, "final.mp4", "video bytes")
	thumbPath := writeTempFile(t, dir, "thumb.jpg", "thumb bytes")

	adapter := New(server.URL, "production", "", "https://cdn.example.com", "", "")
	finalURL, _, err := adapter.Upload(context.Background(), "render-1", finalPath, thumbPath, "pub-1")

	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/renders/videos/pub-1.mp4", finalURL)
}

func TestUploadRetriesOnceOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	finalPath := writeTempFile(t, dir, "final.mp4", "video bytes")
	thumbPath := writeTempFile(t, dir, "thumb.jpg", "thumb bytes")

	adapter := New(server.URL, "production", "", "", "", "")
	_, _, err := adapter.Upload(context.Background(), "render-1", finalPath, thumbPath, "pub-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestPurgeNoopWithoutCredentials(t *testing.T) {
	adapter := New("https://store.example.com", "production", "", "", "", "")
	err := adapter.Purge(context.Background(), "render-1", []string{"https://cdn.example.com/x.mp4"})
	require.NoError(t, err)
}
