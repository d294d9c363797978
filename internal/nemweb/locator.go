// Package nemweb discovers, downloads and parses NEMweb market price
// reports. NEMweb's upstream cache is known to serve stale directory
// listings; the locator works around that with rotated client identities
// and cache-busting query suffixes.
package nemweb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/woodid012/plugit/pkg/logger"
)

// userAgents rotate across retry attempts to defeat the upstream cache.
// The empty string falls through to Go's default agent.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"",
}

var hrefRe = regexp.MustCompile(`(?i)href="([^"]+)"`)

// Located identifies the newest matching report in a directory listing.
type Located struct {
	URL    string
	FileID string
}

// Locator scans NEMweb directory listings for the most recent report file.
type Locator struct {
	client       *http.Client
	log          *logger.Logger
	maxAttempts  int
	attemptDelay time.Duration
}

func NewLocator(client *http.Client, log *logger.Logger, maxAttempts int, attemptDelay time.Duration) *Locator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Locator{client: client, log: log, maxAttempts: maxAttempts, attemptDelay: attemptDelay}
}

// Latest fetches the directory listing once and returns the entry with the
// lexicographically greatest file identifier. File identifiers are
// zero-padded minute timestamps, so lexicographic order is chronological
// order. Returns ok=false when no entry matches.
func (l *Locator) Latest(ctx context.Context, dirURL string, pattern *regexp.Regexp, userAgent string, cacheBust bool) (Located, bool, error) {
	reqURL := dirURL
	if cacheBust {
		sep := "?"
		if strings.Contains(dirURL, "?") {
			sep = "&"
		}
		reqURL = fmt.Sprintf("%s%s_t=%d", dirURL, sep, time.Now().UnixMilli())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Located{}, false, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")

	resp, err := l.client.Do(req)
	if err != nil {
		return Located{}, false, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Located{}, false, fmt.Errorf("fetch listing: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Located{}, false, fmt.Errorf("read listing: %w", err)
	}

	var best Located
	for _, m := range hrefRe.FindAllStringSubmatch(string(body), -1) {
		href := m[1]
		fm := pattern.FindStringSubmatch(href)
		if fm == nil || len(fm) < 2 {
			continue
		}
		if fm[1] > best.FileID {
			best = Located{URL: resolveHref(dirURL, href), FileID: fm[1]}
		}
	}

	if best.FileID == "" {
		return Located{}, false, nil
	}
	return best, true, nil
}

// LatestWithRetry attempts up to maxAttempts identity/cache-bust strategy
// combinations and stops early once a file identifier strictly newer than
// baseline is seen. Otherwise it returns the best result across attempts.
// An empty baseline accepts the first successful listing.
func (l *Locator) LatestWithRetry(ctx context.Context, dirURL string, pattern *regexp.Regexp, baseline string) (Located, bool) {
	var best Located
	bestID := baseline

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		ua := userAgents[attempt%len(userAgents)]
		cacheBust := attempt%2 == 1

		got, ok, err := l.Latest(ctx, dirURL, pattern, ua, cacheBust)
		if err != nil {
			l.log.Warn("listing attempt failed",
				logger.Int("attempt", attempt+1),
				logger.String("url", dirURL),
				logger.Error(err))
		} else if ok {
			if best.FileID == "" || got.FileID > best.FileID {
				best = got
			}
			if baseline == "" || got.FileID > bestID {
				return best, true
			}
			l.log.Debug("listing unchanged",
				logger.Int("attempt", attempt+1),
				logger.String("file_id", got.FileID))
		}

		if attempt+1 < l.maxAttempts {
			select {
			case <-ctx.Done():
				return best, best.FileID != ""
			case <-time.After(l.attemptDelay):
			}
		}
	}

	return best, best.FileID != ""
}

// resolveHref builds an absolute file URL from a listing href, which may be
// absolute, host-rooted or relative.
func resolveHref(dirURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		if u, err := url.Parse(dirURL); err == nil {
			return u.Scheme + "://" + u.Host + href
		}
	}
	return strings.TrimRight(dirURL, "/") + "/" + href
}
