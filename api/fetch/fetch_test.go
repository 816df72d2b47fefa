package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Get_FilenameFromDisposition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="lecture 01.mp3"`)
		w.Write([]byte("ID3audio"))
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 1024)
	dl, err := c.Get(context.Background(), server.URL+"/download?id=7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer dl.Close()

	if dl.Filename != "lecture 01.mp3" {
		t.Errorf("Expected filename from header, got %q", dl.Filename)
	}
	data, _ := io.ReadAll(dl.Body)
	if string(data) != "ID3audio" {
		t.Errorf("Unexpected body %q", data)
	}
}

func TestClient_Get_FilenameFromPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OggS"))
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 1024)

	dl, err := c.Get(context.Background(), server.URL+"/media/talk.ogg?sig=abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dl.Close()
	if dl.Filename != "talk.ogg" {
		t.Errorf("Expected talk.ogg, got %q", dl.Filename)
	}

	dl, err = c.Get(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	dl.Close()
	if dl.Filename != defaultFilename {
		t.Errorf("Expected default filename, got %q", dl.Filename)
	}
}

func TestClient_Get_InvalidURL(t *testing.T) {
	c := NewClient(time.Second, 0)

	for _, raw := range []string{"", "ftp://example.com/a.mp3", "not a url", "http://"} {
		if _, err := c.Get(context.Background(), raw); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("%q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestClient_Get_StatusError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := NewClient(5*time.Second, 0)
	_, err := c.Get(context.Background(), server.URL+"/missing.mp3")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected StatusError 404, got %v", err)
	}
}

func TestClient_Get_SizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	c := NewClient(5*time.Second, 16)
	dl, err := c.Get(context.Background(), server.URL+"/big.wav")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer dl.Close()

	if _, err := io.ReadAll(dl.Body); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}
