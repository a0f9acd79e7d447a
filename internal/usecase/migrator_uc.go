// File: internal/usecase/migrator_uc.go
package usecase

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/infra/metrics"
)

// Compile-time check
var _ MigratorUseCase = (*migratorUC)(nil)

// MigratorUseCase copies ephemeral provider result URLs into durable object
// storage. Provider URLs expire within roughly an hour, so a result that is
// not migrated promptly is lost for good.
type MigratorUseCase interface {
	// Migrate processes each output independently; one failing output does
	// not block the others. Keys are deterministic in (jobID, index) so a
	// repeated attempt overwrites rather than duplicates.
	Migrate(ctx context.Context, jobID, ownerID string, outputs []MigrationInput) []MigrationResult
}

type MigrationInput struct {
	Index     int
	SourceURL string
	Kind      model.JobKind
}

type MigrationResult struct {
	Index        int
	PermanentURL string
	ThumbnailURL string
	OK           bool
	Err          error
}

const (
	fetchTimeout   = 2 * time.Minute
	maxOutputBytes = 512 << 20 // generous cap; videos can be large
	thumbWidth     = 384
)

type migratorUC struct {
	store  adapter.ObjectStore
	client *http.Client
	log    *zerolog.Logger
}

func NewMigratorUseCase(store adapter.ObjectStore, log *zerolog.Logger) *migratorUC {
	return &migratorUC{
		store:  store,
		client: &http.Client{Timeout: fetchTimeout},
		log:    log,
	}
}

func (u *migratorUC) Migrate(ctx context.Context, jobID, ownerID string, outputs []MigrationInput) []MigrationResult {
	results := make([]MigrationResult, 0, len(outputs))
	for _, out := range outputs {
		res := u.migrateOne(ctx, jobID, ownerID, out)
		if res.OK {
			metrics.IncMigration("ok")
		} else {
			metrics.IncMigration("failed")
			u.log.Warn().Err(res.Err).Str("job_id", jobID).Int("index", out.Index).Msg("output migration failed")
		}
		results = append(results, res)
	}
	return results
}

func (u *migratorUC) migrateOne(ctx context.Context, jobID, ownerID string, out MigrationInput) MigrationResult {
	res := MigrationResult{Index: out.Index}

	data, contentType, err := u.fetch(ctx, out.SourceURL)
	if err != nil {
		res.Err = fmt.Errorf("fetch source: %w", err)
		return res
	}

	key := fmt.Sprintf("owner/%s/job/%s/%d", ownerID, jobID, out.Index)
	if _, err := u.store.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		res.Err = fmt.Errorf("put object: %w", err)
		return res
	}
	res.PermanentURL = u.store.URL(key)

	// Thumbnails only for images; a failed thumbnail does not fail the output.
	if out.Kind == model.JobKindImage || out.Kind == model.JobKindUpscale {
		if thumb, err := downscaleJPEG(data, thumbWidth); err == nil {
			thumbKey := key + "/thumb"
			if _, err := u.store.Put(ctx, thumbKey, bytes.NewReader(thumb), "image/jpeg"); err == nil {
				res.ThumbnailURL = u.store.URL(thumbKey)
			}
		} else {
			u.log.Debug().Err(err).Str("job_id", jobID).Int("index", out.Index).Msg("thumbnail derivation skipped")
		}
	}

	res.OK = true
	return res
}

func (u *migratorUC) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("source returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// downscaleJPEG decodes src, scales it to width w preserving aspect ratio,
// and re-encodes as JPEG.
func downscaleJPEG(src []byte, w int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= w {
		// Already small enough; re-encode as-is.
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	h := b.Dy() * w / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
