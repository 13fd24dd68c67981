package compress

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/semaphore"
)

// Content encodings recorded on stored files. Identity means the blob is
// the bytes the client sent (possibly a re-encoded image, same container
// format); gzip means the blob must be expanded on the way out.
const (
	EncodingIdentity = "identity"
	EncodingGzip     = "gzip"
)

const (
	// minSizeBytes is the floor below which transforming is not worth the
	// overhead; smaller inputs pass through untouched.
	minSizeBytes = 100 * 1024

	jpegQuality = 80

	// archiveRatioNum/archiveRatioDen: a gzip transform is kept only when
	// the output is under 90% of the original.
	archiveRatioNum = 9
	archiveRatioDen = 10
)

// Result is the outcome of one compression decision. Data always holds the
// bytes of record: the transformed output when the transform won, otherwise
// the original input unchanged.
type Result struct {
	Data         []byte
	Compressed   bool
	Encoding     string
	FinalSize    int64
	OriginalSize int64
}

// Pipeline applies the ingestion-time compression decision. Transforms are
// CPU-bound, so a semaphore bounds how many run at once.
type Pipeline struct {
	sem *semaphore.Weighted
}

// NewPipeline creates a pipeline allowing up to maxConcurrent transforms.
func NewPipeline(maxConcurrent int64) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pipeline{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Process decides whether a transformed representation replaces the
// original. It never fails: any transform error keeps the original bytes
// and reports a pass-through result.
func (p *Pipeline) Process(ctx context.Context, data []byte, contentType string) Result {
	passthrough := Result{
		Data:         data,
		Compressed:   false,
		Encoding:     EncodingIdentity,
		FinalSize:    int64(len(data)),
		OriginalSize: int64(len(data)),
	}

	if len(data) < minSizeBytes {
		return passthrough
	}

	mediaType := normalizeMediaType(contentType)

	var transform func([]byte, string) ([]byte, string, error)
	switch {
	case isEligibleImage(mediaType):
		transform = transformImage
	case isCompressible(mediaType):
		transform = transformGzip
	default:
		return passthrough
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return passthrough
	}
	defer p.sem.Release(1)

	out, encoding, err := transform(data, mediaType)
	if err != nil {
		slog.Warn("compression transform failed, keeping original",
			"content_type", mediaType,
			"size", len(data),
			"error", err,
		)
		return passthrough
	}

	if !keep(encoding, int64(len(out)), int64(len(data))) {
		return passthrough
	}

	return Result{
		Data:         out,
		Compressed:   true,
		Encoding:     encoding,
		FinalSize:    int64(len(out)),
		OriginalSize: int64(len(data)),
	}
}

// keep applies the replacement rule: image re-encodes must be strictly
// smaller; gzip archives must additionally beat the 90% threshold.
func keep(encoding string, finalSize, originalSize int64) bool {
	if finalSize >= originalSize {
		return false
	}
	if encoding == EncodingGzip {
		return finalSize*archiveRatioDen < originalSize*archiveRatioNum
	}
	return true
}

func transformImage(data []byte, mediaType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	switch mediaType {
	case "image/png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	}
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), EncodingIdentity, nil
}

func transformGzip(data []byte, _ string) ([]byte, string, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), EncodingGzip, nil
}

// Expand wraps a stored blob reader so callers always see the original
// representation. Identity blobs are returned as-is.
func Expand(r io.ReadCloser, encoding string) (io.ReadCloser, error) {
	if encoding != EncodingGzip {
		return r, nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &gzipReadCloser{gz: gz, underlying: r}, nil
}

type gzipReadCloser struct {
	gz         *gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.underlying.Close(); err == nil {
		err = cerr
	}
	return err
}

// isEligibleImage reports whether the type gets the lossy/lossless image
// transform. GIF and WebP are left alone: re-encoding them rarely wins.
func isEligibleImage(mediaType string) bool {
	switch mediaType {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}

// compressibleTypes are non-image types that plausibly gain from deflate.
// Archives, media and other already-compressed formats are excluded.
var compressibleTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"image/svg+xml":          true,
}

func isCompressible(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") || compressibleTypes[mediaType]
}

// normalizeMediaType lowercases and strips parameters like "; charset=utf-8".
func normalizeMediaType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
