package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"clipflow/internal/apperr"
	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/media/ffprobe"
	"clipflow/internal/metrics"
	"clipflow/internal/models"
	"clipflow/internal/poster"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp2t"

	defaultUploadConcurrency = 4
)

// Prober inspects a local media file.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// PosterGenerator publishes still images of a source. Failures are not fatal
// to a transcode.
type PosterGenerator interface {
	Enabled() bool
	Generate(ctx context.Context, sessionID, source, workDir string) ([]string, error)
}

// Transcoder materializes a source into session-scoped scratch space and
// publishes an HLS ladder for it.
type Transcoder struct {
	storage  Storage
	encoder  Encoder
	probe    Prober
	poster   PosterGenerator
	pipeline *config.PipelineConfig

	scratchDir        string
	uploadConcurrency int
	logger            logging.Logger
}

func NewTranscoder(cfg *config.Config, pipeline *config.PipelineConfig, storage Storage, logger logging.Logger) *Transcoder {
	ffprobePath := cfg.FFprobePath
	return &Transcoder{
		storage: storage,
		encoder: &FFmpegEncoder{Binary: cfg.FFmpegPath, Encoding: pipeline.Encoding},
		probe: func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, ffprobePath, path)
		},
		poster:            poster.NewGenerator(cfg.FFmpegPath, storage, pipeline.Poster),
		pipeline:          pipeline,
		scratchDir:        cfg.ScratchDir,
		uploadConcurrency: defaultUploadConcurrency,
		logger:            logger,
	}
}

// Transcode returns the published rendition set, or nil with no error when
// HLS output is disabled and the source is served as-is. The master playlist
// is written last, so it only ever names renditions whose files are all in
// storage.
func (t *Transcoder) Transcode(ctx context.Context, job Job) (*models.RenditionSet, error) {
	const op = "transcode"
	if t.pipeline.Encoding.DisableHLS {
		t.logger.Info(ctx, "hls disabled, publishing source only", "session_id", job.SessionID)
		return nil, nil
	}

	start := time.Now()
	defer func() { metrics.TranscodeDuration.Observe(time.Since(start).Seconds()) }()

	work, err := os.MkdirTemp(t.scratchDir, "transcode-"+job.SessionID+"-")
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindIO, op, err, "create scratch dir")
	}
	defer t.cleanup(ctx, job.SessionID, work)

	source := filepath.Join(work, "source"+strings.ToLower(filepath.Ext(job.SourceKey)))
	if err := t.materialize(ctx, job, source); err != nil {
		return nil, err
	}

	probe, err := t.probe(ctx, source)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindTranscode, op, err, "inspect source")
	}
	video, ok := probe.VideoStream()
	if !ok {
		return nil, apperr.Wrapf(apperr.KindTranscode, op, fmt.Errorf("no video stream"), "inspect source")
	}

	targets := selectRenditions(t.pipeline.Renditions, video.Height, t.pipeline.Encoding.SkipUpscale)
	set := &models.RenditionSet{MasterKey: MasterKey(job.SessionID)}

	for _, r := range targets {
		out := filepath.Join(work, r.Label)
		if err := os.MkdirAll(out, 0o755); err != nil {
			return nil, apperr.Wrapf(apperr.KindIO, op, err, "create output dir for %s", r.Label)
		}

		if err := t.encoder.Encode(ctx, EncodeRequest{Source: source, OutputDir: out, Rendition: r}); err != nil {
			metrics.RenditionsEncoded.WithLabelValues(r.Label, "failed").Inc()
			return nil, apperr.Wrapf(apperr.KindTranscode, op, err, "encode %s", r.Label)
		}
		if err := t.uploadRendition(ctx, job.SessionID, r.Label, out); err != nil {
			metrics.RenditionsEncoded.WithLabelValues(r.Label, "failed").Inc()
			return nil, err
		}

		metrics.RenditionsEncoded.WithLabelValues(r.Label, "ok").Inc()
		set.Renditions = append(set.Renditions, describe(job.SessionID, r, video.Width, video.Height))
		t.logger.Info(ctx, "rendition published", "session_id", job.SessionID, "rendition", r.Label)
	}

	set.SortByBandwidth()
	master := MasterPlaylist(set.Renditions)
	if err := t.storage.PutObject(ctx, set.MasterKey, strings.NewReader(master), contentTypePlaylist); err != nil {
		return nil, apperr.Wrapf(apperr.KindStorage, op, err, "upload master playlist")
	}

	if t.poster != nil && t.poster.Enabled() {
		keys, err := t.poster.Generate(ctx, job.SessionID, source, work)
		if err != nil {
			t.logger.Warn(ctx, "poster generation failed", "session_id", job.SessionID, "error", err)
		}
		set.PosterKeys = keys
	}

	t.logger.Info(ctx, "transcode complete", "session_id", job.SessionID,
		"renditions", len(set.Renditions), "duration", time.Since(start).String())
	return set, nil
}

func (t *Transcoder) materialize(ctx context.Context, job Job, dst string) error {
	const op = "materialize source"
	f, err := os.Create(dst)
	if err != nil {
		return apperr.Wrapf(apperr.KindIO, op, err, "create %s", dst)
	}
	n, err := t.storage.Download(ctx, job.SourceKey, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		return apperr.Wrapf(apperr.KindIO, op, closeErr, "close %s", dst)
	}
	if err != nil {
		return apperr.Wrapf(apperr.KindStorage, op, err, "download %s", job.SourceKey)
	}
	if n == 0 {
		return apperr.Wrap(apperr.KindIO, op, fmt.Errorf("source %s is empty", job.SourceKey))
	}
	if job.ExpectedSize > 0 && n != job.ExpectedSize {
		return apperr.Wrap(apperr.KindIO, op, fmt.Errorf("source %s has %d bytes, expected %d", job.SourceKey, n, job.ExpectedSize))
	}
	return nil
}

// uploadRendition pushes every segment of dir in parallel, then its playlist.
func (t *Transcoder) uploadRendition(ctx context.Context, sessionID, label, dir string) error {
	const op = "upload rendition"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apperr.Wrapf(apperr.KindIO, op, err, "list %s output", label)
	}

	var segments []string
	hasPlaylist := false
	for _, e := range entries {
		switch name := e.Name(); {
		case e.IsDir():
		case strings.HasSuffix(name, ".ts"):
			segments = append(segments, name)
		case name == playlistName:
			hasPlaylist = true
		}
	}
	if !hasPlaylist || len(segments) == 0 {
		return apperr.Wrap(apperr.KindTranscode, op, fmt.Errorf("encoder produced no playable output for %s", label))
	}
	sort.Strings(segments)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(t.uploadConcurrency, 1))
	for _, name := range segments {
		g.Go(func() error {
			return t.putFile(gctx, filepath.Join(dir, name), RenditionKey(sessionID, label, name), contentTypeSegment)
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.Wrapf(apperr.KindStorage, op, err, "upload %s segments", label)
	}

	if err := t.putFile(ctx, filepath.Join(dir, playlistName), RenditionKey(sessionID, label, playlistName), contentTypePlaylist); err != nil {
		return apperr.Wrapf(apperr.KindStorage, op, err, "upload %s playlist", label)
	}
	return nil
}

func (t *Transcoder) putFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.storage.PutObject(ctx, key, f, contentType)
}

func (t *Transcoder) cleanup(ctx context.Context, sessionID, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		t.logger.Warn(ctx, "failed to remove scratch dir", "session_id", sessionID, "dir", dir, "error", err)
	}
}
