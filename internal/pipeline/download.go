package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/biblioflow/backend/internal/domain"
)

// DownloadOptions bound one download batch.
type DownloadOptions struct {
	Limit        int
	Workers      int
	WorkerID     string
	LeaseSeconds int64
	LibraryDir   string
	CorpusID     *int64
}

func (o DownloadOptions) withDefaults() DownloadOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.WorkerID == "" {
		o.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if o.LeaseSeconds <= 0 {
		o.LeaseSeconds = 600
	}
	return o
}

// DownloadBatch releases expired leases, claims up to Limit queued rows,
// and fetches each claimed PDF into the library directory. Failed fetches
// go back through the retry budget; partial batch progress always persists.
func (p *Pipeline) DownloadBatch(ctx context.Context, opts DownloadOptions) (domain.BatchCounters, error) {
	opts = opts.withDefaults()
	if opts.LibraryDir == "" {
		return domain.BatchCounters{}, fmt.Errorf("download: library directory not configured")
	}
	if err := os.MkdirAll(opts.LibraryDir, 0o755); err != nil {
		return domain.BatchCounters{}, fmt.Errorf("create library dir: %w", err)
	}

	released, err := p.store.ReleaseExpiredLeases(ctx, p.now().Unix())
	if err != nil {
		return domain.BatchCounters{}, fmt.Errorf("release expired leases: %w", err)
	}
	if released > 0 {
		log.Printf("Released %d expired download leases", released)
	}

	claimed, err := p.store.ClaimBatch(ctx, opts.CorpusID, opts.Limit, opts.WorkerID, opts.LeaseSeconds)
	if err != nil {
		return domain.BatchCounters{}, fmt.Errorf("claim batch: %w", err)
	}
	if len(claimed) == 0 {
		log.Printf("Download: queue is empty")
		return domain.BatchCounters{}, nil
	}
	log.Printf("Claimed %d references as %s", len(claimed), opts.WorkerID)

	var (
		mu         sync.Mutex
		counters   domain.BatchCounters
		totalBytes atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, ref := range claimed {
		ref := ref
		g.Go(func() error {
			n, err := p.downloadOne(gctx, ref, opts.LibraryDir)
			mu.Lock()
			counters.Processed++
			if err != nil {
				counters.AddError(fmt.Sprintf("enriched %d: %v", ref.ID, err))
			} else {
				counters.Promoted++
				totalBytes.Add(n)
			}
			done := counters.Processed
			mu.Unlock()
			log.Printf("Progress: %d/%d downloaded (%s)",
				done, len(claimed), humanize.Bytes(uint64(totalBytes.Load())))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return counters, err
	}

	log.Printf("Download complete: %d fetched, %d failed, %s total",
		counters.Promoted, counters.Failed, humanize.Bytes(uint64(totalBytes.Load())))
	return counters, nil
}

// downloadOne resolves, fetches, and records a single claimed reference.
// Any failure is reported through the queue's retry budget before being
// returned for the batch log.
func (p *Pipeline) downloadOne(ctx context.Context, ref *domain.EnrichedReference, libraryDir string) (int64, error) {
	url, sourceTag, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return 0, p.reportFailure(ctx, ref.ID, fmt.Errorf("resolve url: %w", err))
	}

	data, err := p.fetchPDF(ctx, url)
	if err != nil {
		return 0, p.reportFailure(ctx, ref.ID, fmt.Errorf("fetch %s: %w", url, err))
	}

	name := pdfFileName(ref.ID, ref.Title)
	path := filepath.Join(libraryDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, p.reportFailure(ctx, ref.ID, fmt.Errorf("write file: %w", err))
	}

	sum := sha256.Sum256(data)
	if _, err := p.store.CompleteDownloadSuccess(ctx, ref.ID, path, hex.EncodeToString(sum[:]), sourceTag); err != nil {
		return 0, fmt.Errorf("complete download: %w", err)
	}
	return int64(len(data)), nil
}

// reportFailure routes an error through FailDownload so the row re-enters
// the queue or lands in failed_download, then hands the error back for the
// batch counters.
func (p *Pipeline) reportFailure(ctx context.Context, id int64, cause error) error {
	if err := p.store.FailDownload(ctx, id, cause.Error()); err != nil {
		return fmt.Errorf("%v (and recording the failure failed: %w)", cause, err)
	}
	return cause
}

func (p *Pipeline) fetchPDF(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "biblioflow/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("response is not a PDF (%d bytes, content-type %s)",
			len(data), resp.Header.Get("Content-Type"))
	}
	return data, nil
}

// pdfFileName builds "<id>_<title-slug>.pdf"; the id prefix keeps names
// unique even for identical titles.
func pdfFileName(id int64, title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
		if sb.Len() >= 60 {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "reference"
	}
	return fmt.Sprintf("%d_%s.pdf", id, slug)
}
