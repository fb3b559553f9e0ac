// Package source opens compressed audio sources for the decode pipeline.
// A source reference is an HTTP(S) URL, a playlist URL (.pls/.m3u) that is
// resolved to its first stream entry, or a local file path.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 2 * time.Second

	playlistFetchTimeout = 10 * time.Second
)

// Options controls open-time resilience. Zero values fall back to the
// package defaults.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	UserAgent      string
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.UserAgent == "" {
		o.UserAgent = "streamcast"
	}
	return o
}

// Stream is an open audio source. Network reads are bounded by the
// configured read timeout so a silently stalled connection surfaces as a
// read error instead of hanging the decode loop.
type Stream struct {
	rc         io.ReadCloser
	seeker     io.ReadSeeker // non-nil only for local files
	downloaded atomic.Int64
	total      int64
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	if n > 0 && s.seeker == nil {
		s.downloaded.Add(int64(n))
	}
	return n, err
}

func (s *Stream) Close() error {
	return s.rc.Close()
}

// Progress returns bytes downloaded so far and the total size when known.
// Total is 0 for live streams and chunked responses.
func (s *Stream) Progress() (downloaded, total int64) {
	return s.downloaded.Load(), s.total
}

// Seeker returns the underlying seekable reader for local file sources,
// or nil for network streams.
func (s *Stream) Seeker() io.ReadSeeker {
	return s.seeker
}

type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("source returned status %d: %s", e.StatusCode, e.Status)
}

func isNonRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 404, 410:
			return true
		}
	}
	return false
}

// Open resolves ref and opens it, retrying transient network failures up to
// opts.MaxRetries times with a fixed delay between attempts.
func Open(ctx context.Context, ref string, opts Options) (*Stream, error) {
	opts = opts.withDefaults()

	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return openFile(strings.TrimPrefix(ref, "file://"))
	}

	streamURL := ref
	if isPlaylistRef(ref) {
		urls, err := resolvePlaylist(ctx, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve playlist: %w", err)
		}
		streamURL = urls[0]
		log.Debug().Str("playlist", ref).Str("stream", streamURL).Msg("Playlist resolved")
	}

	client := newStreamClient(opts.ConnectTimeout)

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Msgf("Open failed, retrying in %v (%d/%d)", opts.RetryDelay, attempt, opts.MaxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}

		s, err := openHTTP(ctx, client, streamURL, opts)
		if err == nil {
			return s, nil
		}
		if errors.Is(err, context.Canceled) || isNonRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed to open %s: %w", streamURL, lastErr)
}

func openFile(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file source: %w", err)
	}
	var total int64
	if info, statErr := f.Stat(); statErr == nil {
		total = info.Size()
	}
	s := &Stream{rc: f, seeker: f, total: total}
	s.downloaded.Store(total) // local files are already fully "downloaded"
	return s, nil
}

// Streams are long-lived, so there is no overall client timeout; the dial,
// TLS handshake and response header phases are bounded individually.
func newStreamClient(connectTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout + 5*time.Second,
			DisableKeepAlives:     false,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

func openHTTP(ctx context.Context, client *http.Client, streamURL string, opts Options) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	log.Debug().Int("status", resp.StatusCode).
		Str("content-type", resp.Header.Get("Content-Type")).
		Msgf("Connected to %s", streamURL)

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	body := &timeoutReadCloser{
		rc:      resp.Body,
		ctx:     ctx,
		timeout: opts.ReadTimeout,
	}
	return &Stream{rc: body, total: total}, nil
}

func isPlaylistRef(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".pls") || strings.HasSuffix(path, ".m3u") || strings.HasSuffix(path, ".m3u8")
}

// resolvePlaylist fetches a .pls or .m3u playlist and extracts its stream
// URLs in file order.
func resolvePlaylist(ctx context.Context, playlistURL string, opts Options) ([]string, error) {
	client := resty.New().
		SetTimeout(playlistFetchTimeout).
		SetHeader("User-Agent", opts.UserAgent)

	resp, err := client.R().SetContext(ctx).Get(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("playlist returned status %d: %s", resp.StatusCode(), resp.Status())
	}

	var urls []string
	if strings.HasSuffix(strings.ToLower(playlistURL), ".pls") {
		urls = parsePLS(string(resp.Body()))
	} else {
		urls = parseM3U(string(resp.Body()))
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("no stream URL found in playlist")
	}
	return urls, nil
}

func parsePLS(body string) []string {
	var urls []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if u := strings.TrimSpace(parts[1]); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func parseM3U(body string) []string {
	var urls []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls
}
