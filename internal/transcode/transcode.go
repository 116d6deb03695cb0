// Package transcode turns a source image into the fixed set of artwork
// variants: baseline JPEG, alpha flattened onto white, derived sizes
// center-cropped to fill their box.
package transcode

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content checksum, not a security boundary
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

// DefaultMaxSourceDimension is the largest accepted source side in pixels.
const DefaultMaxSourceDimension = 4096

// OutputFormat and OutputContentType describe every encoded variant.
const (
	OutputFormat      = "jpeg"
	OutputContentType = "image/jpeg"
)

var (
	// ErrDecode is returned when the source bytes are not a supported image.
	ErrDecode = errors.NewStd("image decode failed")
	// ErrSourceTooLarge is returned when the larger source side exceeds the ceiling.
	ErrSourceTooLarge = errors.NewStd("source image exceeds maximum dimension")
	// ErrNoVariants is returned by TranscodeAll when every variant failed.
	ErrNoVariants = errors.NewStd("no variant could be produced")
)

// Config controls the transcoder.
type Config struct {
	// Workers bounds concurrent encodes. Zero means runtime.NumCPU().
	Workers int
	// MaxSourceDimension is the source ceiling. Zero means DefaultMaxSourceDimension.
	MaxSourceDimension int
}

// Result is one encoded variant.
type Result struct {
	Variant     artwork.Variant
	Data        []byte
	Width       int
	Height      int
	Size        int
	Format      string
	ContentType string
	Quality     int
	Checksum    string // md5 hex of Data
	// CompressionRatio is Size divided by the input length. Diagnostic only.
	CompressionRatio float64
	SourceFormat     string
	SourceWidth      int
	SourceHeight     int
}

// Stats are cumulative counters since construction.
type Stats struct {
	Processed  int64
	Failures   int64
	BytesSaved int64
}

// Transcoder produces variants. Safe for concurrent use.
type Transcoder struct {
	sem      *semaphore.Weighted
	maxDim   int
	log      logger.Logger
	recorder metrics.Recorder

	processed  atomic.Int64
	failures   atomic.Int64
	bytesSaved atomic.Int64
}

// New creates a Transcoder. A nil log or recorder falls back to defaults.
func New(cfg Config, log logger.Logger, recorder metrics.Recorder) *Transcoder {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxDim := cfg.MaxSourceDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxSourceDimension
	}
	if log == nil {
		log = logger.Global().Module("artwork.transcode")
	}
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &Transcoder{
		sem:      semaphore.NewWeighted(int64(workers)),
		maxDim:   maxDim,
		log:      log,
		recorder: recorder,
	}
}

// source is a decoded input image.
type source struct {
	img    image.Image
	format string
	size   int
}

// Decode checks the header against the dimension ceiling and then fully
// decodes data.
func (t *Transcoder) Decode(data []byte) (image.Image, string, error) {
	src, err := t.decode(data)
	if err != nil {
		return nil, "", err
	}
	return src.img, src.format, nil
}

func (t *Transcoder) decode(data []byte) (*source, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if max(cfg.Width, cfg.Height) > t.maxDim {
		return nil, fmt.Errorf("%w: %dx%d, limit %d", ErrSourceTooLarge, cfg.Width, cfg.Height, t.maxDim)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &source{img: img, format: format, size: len(data)}, nil
}

// Verify fully decodes data, reporting whether it is an intact image.
func (t *Transcoder) Verify(data []byte) error {
	_, err := t.decode(data)
	return err
}

// Transcode produces a single variant of data.
func (t *Transcoder) Transcode(ctx context.Context, data []byte, v artwork.Variant) (*Result, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %q", artwork.ErrInvalidVariant, v)
	}
	src, err := t.decode(data)
	if err != nil {
		t.failures.Add(1)
		return nil, t.wrap(err, v)
	}
	return t.encodeVariant(ctx, src, v)
}

// TranscodeAll produces every variant from one decode. Variants that fail
// are logged and left out of the map; an error is returned only when none
// succeeded or the context ended.
func (t *Transcoder) TranscodeAll(ctx context.Context, data []byte) (map[artwork.Variant]*Result, error) {
	src, err := t.decode(data)
	if err != nil {
		t.failures.Add(1)
		return nil, t.wrap(err, "")
	}

	var (
		mu       sync.Mutex
		results  = make(map[artwork.Variant]*Result, artwork.VariantCount)
		failures = make(map[artwork.Variant]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range artwork.Variants() {
		g.Go(func() error {
			res, err := t.encodeVariant(gctx, src, v)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[v] = err
				// Only cancellation aborts the group; a bad variant does not.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			results[v] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for v, ferr := range failures {
		t.log.Warn("variant transcode failed",
			logger.String("variant", v.String()),
			logger.Error(ferr))
	}
	if len(results) == 0 {
		errs := make([]error, 0, len(failures)+1)
		errs = append(errs, ErrNoVariants)
		for _, ferr := range failures {
			errs = append(errs, ferr)
		}
		return nil, t.wrap(errors.Join(errs...), "")
	}
	return results, nil
}

// encodeVariant renders and encodes one variant under the worker semaphore.
func (t *Transcoder) encodeVariant(ctx context.Context, src *source, v artwork.Variant) (*Result, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	start := time.Now()
	policy := v.Policy()

	var canvas *image.RGBA
	if v.Resized() {
		canvas = cropToFill(src.img, policy.Box)
	} else {
		canvas = flatten(src.img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: policy.Quality}); err != nil {
		t.failures.Add(1)
		t.recorder.RecordError(metrics.OpTranscode, "encode")
		return nil, t.wrap(fmt.Errorf("encode %s: %w", v, err), v)
	}

	out := buf.Bytes()
	sum := md5.Sum(out) //nolint:gosec // see import
	b := canvas.Bounds()
	srcBounds := src.img.Bounds()

	res := &Result{
		Variant:      v,
		Data:         out,
		Width:        b.Dx(),
		Height:       b.Dy(),
		Size:         len(out),
		Format:       OutputFormat,
		ContentType:  OutputContentType,
		Quality:      policy.Quality,
		Checksum:     hex.EncodeToString(sum[:]),
		SourceFormat: src.format,
		SourceWidth:  srcBounds.Dx(),
		SourceHeight: srcBounds.Dy(),
	}
	if src.size > 0 {
		res.CompressionRatio = float64(len(out)) / float64(src.size)
	}

	t.processed.Add(1)
	if saved := src.size - len(out); saved > 0 {
		t.bytesSaved.Add(int64(saved))
	}
	t.recorder.RecordOperation(metrics.OpTranscode, metrics.StatusSuccess)
	t.recorder.RecordDuration(metrics.OpTranscode, time.Since(start).Seconds())
	return res, nil
}

// ValidateVariant reports whether data decodes and fits the variant's box.
func (t *Transcoder) ValidateVariant(data []byte, v artwork.Variant) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || !v.Valid() {
		return false
	}
	if !v.Resized() {
		return true
	}
	box := v.Policy().Box
	return cfg.Width <= box.Width && cfg.Height <= box.Height
}

// Stats returns cumulative counters.
func (t *Transcoder) Stats() Stats {
	return Stats{
		Processed:  t.processed.Load(),
		Failures:   t.failures.Load(),
		BytesSaved: t.bytesSaved.Load(),
	}
}

func (t *Transcoder) wrap(err error, v artwork.Variant) error {
	b := errors.New(err).
		Component("transcode").
		Category(errors.CategoryImageProcessing).
		Context("operation", "transcode")
	if v != "" {
		b = b.Context("variant", v.String())
	}
	return b.Build()
}

// cropToFill scales the centered region of img with the box's aspect ratio
// to exactly box, composited over white.
func cropToFill(img image.Image, box artwork.Box) *image.RGBA {
	dst := whiteCanvas(box.Width, box.Height)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, cropRect(img.Bounds(), box), draw.Over, nil)
	return dst
}

// cropRect returns the largest centered rectangle of b with box's aspect ratio.
func cropRect(b image.Rectangle, box artwork.Box) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	// Compare w/h against box.Width/box.Height without floating point.
	if w*box.Height > h*box.Width {
		cw := h * box.Width / box.Height
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := w * box.Height / box.Width
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

// flatten composites img over white at its own size.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := whiteCanvas(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func whiteCanvas(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return dst
}
