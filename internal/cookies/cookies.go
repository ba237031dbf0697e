// Package cookies provisions the cookie file handed to yt-dlp: it downloads
// it, keeps only the configured domains and renews it periodically.
package cookies

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/elchicle/internal/config"
	"github.com/keshon/elchicle/pkg/jobmgr"
)

const jobName = "cookies-refresh"

// Fetcher downloads the cookie file to Path.
type Fetcher struct {
	URL      string
	Path     string
	Domains  []string
	Interval time.Duration
	Client   *http.Client
}

func New(cfg *config.Config) *Fetcher {
	return &Fetcher{
		URL:      cfg.CookiesURL,
		Path:     cfg.CookiesPath,
		Domains:  cfg.CookieDomains,
		Interval: cfg.CookiesRefreshInterval,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether a download URL is configured.
func (f *Fetcher) Enabled() bool { return f.URL != "" }

// Fetch downloads, filters and atomically replaces the cookie file.
func (f *Fetcher) Fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("build cookies request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download cookies: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download cookies: unexpected status %s", resp.Status)
	}

	var buf bytes.Buffer
	kept, err := Filter(resp.Body, &buf, f.Domains)
	if err != nil {
		return err
	}
	if kept == 0 {
		return fmt.Errorf("downloaded cookie file has no entries for %s", strings.Join(f.Domains, ", "))
	}
	if err := WriteAtomic(f.Path, buf.Bytes()); err != nil {
		return err
	}

	ev := log.Info().Str("component", "cookies").Str("path", f.Path).Int("cookies", kept)
	if st, err := os.Stat(f.Path); err == nil {
		ev = ev.Int64("size", st.Size()).Time("modified", st.ModTime())
	}
	ev.Msg("cookie file updated")
	return nil
}

// Start downloads the file now and then every Interval as a background job.
func (f *Fetcher) Start(ctx context.Context, jm *jobmgr.Manager) error {
	if !f.Enabled() {
		return nil
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return jm.Every(ctx, jobName, interval, f.Fetch)
}

// Filter copies a Netscape cookie file keeping comments, blank lines and the
// rows whose domain contains one of domains. Rows with fewer than seven
// tab-separated fields are dropped. It returns the number of rows kept.
func Filter(in io.Reader, out io.Writer, domains []string) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	w := bufio.NewWriter(out)

	kept := 0
	for sc.Scan() {
		line := sc.Text()
		keep, cookie := keepLine(line, domains)
		if !keep {
			continue
		}
		if cookie {
			kept++
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return kept, fmt.Errorf("write cookies: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return kept, fmt.Errorf("read cookies: %w", err)
	}
	return kept, w.Flush()
}

func keepLine(line string, domains []string) (keep, cookie bool) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return true, false
	}
	parts := strings.Split(s, "\t")
	if len(parts) < 7 {
		return false, false
	}
	host := strings.TrimPrefix(parts[0], ".")
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" && strings.Contains(host, d) {
			return true, true
		}
	}
	return false, false
}

// FilterFile filters in to out. When out is empty in is replaced.
func FilterFile(in, out string, domains []string) (int, error) {
	src, err := os.Open(in)
	if err != nil {
		return 0, fmt.Errorf("open cookies: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	kept, err := Filter(src, &buf, domains)
	if err != nil {
		return kept, err
	}
	if out == "" {
		out = in
	}
	return kept, WriteAtomic(out, buf.Bytes())
}

// WriteAtomic writes data to a temp file next to path and renames it over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cookies dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*")
	if err != nil {
		return fmt.Errorf("create temp cookies: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cookies: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cookies: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cookies: %w", err)
	}
	return nil
}
