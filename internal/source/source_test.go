package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParsePLS(t *testing.T) {
	body := `[playlist]
NumberOfEntries=3
File1=http://stream1.example.com/radio.mp3
Title1=Stream 1
File2=http://stream2.example.com/radio.mp3
Title2=Stream 2
File3=http://stream3.example.com/radio.mp3
Title3=Stream 3
`
	urls := parsePLS(body)
	if len(urls) != 3 {
		t.Fatalf("expected 3 URLs, got %d", len(urls))
	}
	if urls[0] != "http://stream1.example.com/radio.mp3" {
		t.Errorf("urls[0] = %q", urls[0])
	}
}

func TestParseM3U(t *testing.T) {
	body := `#EXTM3U
#EXTINF:-1,Some Stream
http://stream.example.com/live

http://backup.example.com/live
`
	urls := parseM3U(body)
	if len(urls) != 2 {
		t.Fatalf("expected 2 URLs, got %d", len(urls))
	}
	if urls[1] != "http://backup.example.com/live" {
		t.Errorf("urls[1] = %q", urls[1])
	}
}

func TestIsPlaylistRef(t *testing.T) {
	tests := []struct {
		ref      string
		expected bool
	}{
		{"http://example.com/station.pls", true},
		{"https://example.com/list.m3u", true},
		{"https://example.com/list.m3u8", true},
		{"http://example.com/stream.mp3", false},
		{"http://example.com/stream.pls?x=1", true},
		{"http://example.com/stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			if got := isPlaylistRef(tt.ref); got != tt.expected {
				t.Errorf("isPlaylistRef(%q) = %v, want %v", tt.ref, got, tt.expected)
			}
		})
	}
}

func TestOpenHTTP(t *testing.T) {
	payload := strings.Repeat("abc", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	s, err := Open(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != payload {
		t.Errorf("read %d bytes, want %d", len(data), len(payload))
	}

	downloaded, total := s.Progress()
	if downloaded != int64(len(payload)) {
		t.Errorf("downloaded = %d, want %d", downloaded, len(payload))
	}
	if total != int64(len(payload)) {
		t.Errorf("total = %d, want %d", total, len(payload))
	}
}

func TestOpenPlaylistResolution(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer audio.Close()

	playlist := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[playlist]\nFile1=" + audio.URL + "\n"))
	}))
	defer playlist.Close()

	s, err := Open(context.Background(), playlist.URL+"/station.pls", Options{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	data, _ := io.ReadAll(s)
	if string(data) != "audio-bytes" {
		t.Errorf("got %q, want audio payload", data)
	}
}

func TestOpenNonRetryableStatus(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := Open(context.Background(), server.URL, Options{RetryDelay: time.Millisecond})
	if err == nil {
		t.Fatal("expected error for 404 source")
	}
	if hits != 1 {
		t.Errorf("404 should not be retried, got %d attempts", hits)
	}
}

func TestOpenRetriesTransientStatus(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	s, err := Open(context.Background(), server.URL, Options{RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("Open error after retries: %v", err)
	}
	s.Close()

	if hits != 3 {
		t.Errorf("expected 3 attempts, got %d", hits)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("filedata"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	data, _ := io.ReadAll(s)
	if string(data) != "filedata" {
		t.Errorf("got %q", data)
	}

	_, total := s.Progress()
	if total != 8 {
		t.Errorf("total = %d, want 8", total)
	}
}

func TestOpenFileMissing(t *testing.T) {
	_, err := Open(context.Background(), "/nonexistent/clip.mp3", Options{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTimeoutReader(t *testing.T) {
	t.Run("successful read", func(t *testing.T) {
		r := &timeoutReadCloser{
			rc:      io.NopCloser(strings.NewReader("test data")),
			ctx:     context.Background(),
			timeout: time.Second,
		}
		buf := make([]byte, 100)
		n, err := r.Read(buf)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if string(buf[:n]) != "test data" {
			t.Errorf("read %q", buf[:n])
		}
	})

	t.Run("timeout", func(t *testing.T) {
		r := &timeoutReadCloser{
			rc:      io.NopCloser(blockingReader{}),
			ctx:     context.Background(),
			timeout: 10 * time.Millisecond,
		}
		_, err := r.Read(make([]byte, 16))
		if err == nil || !strings.Contains(err.Error(), "timeout") {
			t.Errorf("expected timeout error, got %v", err)
		}
	})

	t.Run("late completion leaves caller buffer alone", func(t *testing.T) {
		lr := &releasableReader{release: make(chan struct{})}
		r := &timeoutReadCloser{
			rc:      io.NopCloser(lr),
			ctx:     context.Background(),
			timeout: 10 * time.Millisecond,
		}

		p := bytes.Repeat([]byte{0xAA}, 16)
		if _, err := r.Read(p); err == nil {
			t.Fatal("expected timeout error")
		}

		// Let the abandoned read finish and write into its own buffer.
		close(lr.release)
		time.Sleep(20 * time.Millisecond)
		for i, b := range p {
			if b != 0xAA {
				t.Fatalf("caller buffer modified at %d after timeout", i)
			}
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := &timeoutReadCloser{
			rc:      io.NopCloser(blockingReader{}),
			ctx:     ctx,
			timeout: time.Hour,
		}
		_, err := r.Read(make([]byte, 16))
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// releasableReader blocks until released, then fills the whole buffer.
type releasableReader struct {
	release chan struct{}
}

func (r *releasableReader) Read(p []byte) (int, error) {
	<-r.release
	for i := range p {
		p[i] = 0x55
	}
	return len(p), nil
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	time.Sleep(time.Hour)
	return 0, nil
}
