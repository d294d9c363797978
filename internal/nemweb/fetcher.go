package nemweb

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/woodid012/plugit/pkg/logger"
)

// maxArchiveBytes caps the extracted payload size. Report CSVs run to a few
// megabytes; anything far beyond that is a broken or hostile archive.
const maxArchiveBytes = 256 << 20

// Fetcher downloads a report archive and extracts its tabular payload.
type Fetcher struct {
	client *http.Client
	log    *logger.Logger
}

func NewFetcher(client *http.Client, log *logger.Logger) *Fetcher {
	return &Fetcher{client: client, log: log}
}

// Fetch downloads the archive at url and extracts it into a scratch
// directory. It returns the path of the payload CSV and a cleanup function
// that removes the scratch directory; cleanup is safe to call on all exit
// paths. Any network, decompression or I/O failure returns an error and no
// cleanup obligation.
func (f *Fetcher) Fetch(ctx context.Context, url, userAgent string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	dir, err := os.MkdirTemp("", "nemweb-*")
	if err != nil {
		return "", nil, fmt.Errorf("scratch dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	zipPath := filepath.Join(dir, "report.zip")
	if err := saveBody(zipPath, resp.Body); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("save archive: %w", err)
	}

	csvPath, err := extractPayload(zipPath, dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	f.log.Debug("archive extracted", logger.String("url", url), logger.String("payload", csvPath))
	return csvPath, cleanup, nil
}

func saveBody(path string, body io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(body, maxArchiveBytes)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// extractPayload unpacks the archive and returns the single CSV entry.
func extractPayload(zipPath, dir string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	csvPath := ""
	for _, entry := range zr.File {
		name := filepath.Base(entry.Name)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		dest := filepath.Join(dir, name)

		rc, err := entry.Open()
		if err != nil {
			return "", fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		err = saveBody(dest, rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract entry %s: %w", entry.Name, err)
		}

		if strings.EqualFold(filepath.Ext(name), ".csv") && csvPath == "" {
			csvPath = dest
		}
	}

	if csvPath == "" {
		return "", fmt.Errorf("no CSV payload in archive")
	}
	return csvPath, nil
}
