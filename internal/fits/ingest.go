package fits

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	progressStage     = "processing FITS"
	progressStageDone = "processing FITS done"
)

// Ingestor drives a single cube through Dummy -> HeaderLoaded -> DataLoaded.
// It holds the sole writer reference for the duration of the load; readers
// time out on the cube lock and surface "not available yet".
type Ingestor struct {
	cube       *Cube
	progress   ProgressSink
	cacheDir   string
	classifier FluxClassifier
	logger     *log.Logger
}

// NewIngestor wires an ingestion worker for one cube. sink may be a NopSink;
// classifier nil selects the default.
func NewIngestor(cube *Cube, sink ProgressSink, cacheDir string, classifier FluxClassifier) *Ingestor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Ingestor{
		cube:       cube,
		progress:   sink,
		cacheDir:   cacheDir,
		classifier: classifier,
		logger:     log.New(log.Writer(), fmt.Sprintf("[Ingest:%s] ", cube.DatasetID), log.LstdFlags),
	}
}

// LoadFromPath ingests the FITS file at path. Any error leaves the cube in
// its dummy state for the orphan sweep to reclaim.
func (ing *Ingestor) LoadFromPath(path string) error {
	c := ing.cube
	c.Lock()
	defer c.Unlock()

	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		ingestFailures.WithLabelValues("open").Inc()
		return fmt.Errorf("fits: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		ingestFailures.WithLabelValues("stat").Inc()
		return fmt.Errorf("fits: stat %s: %w", path, err)
	}
	if info.Size() < ChunkLength {
		ingestFailures.WithLabelValues("too_small").Inc()
		return ErrTooSmall
	}
	c.FilePath = path

	ing.logger.Printf("reading FITS header... (%d bytes on disk)", info.Size())

	if err := ing.readHeader(f); err != nil {
		ingestFailures.WithLabelValues("header").Inc()
		return err
	}

	frameSize := c.initDataStorage()
	if frameSize == 0 {
		if !c.Bitpix.Valid() {
			ingestFailures.WithLabelValues("bitpix").Inc()
			return &UnsupportedBitpixError{Bitpix: int32(c.Bitpix)}
		}
		ingestFailures.WithLabelValues("geometry").Inc()
		return fmt.Errorf("fits: %s: degenerate cube geometry %dx%dx%d",
			c.DatasetID, c.Width, c.Height, c.Depth)
	}

	ing.logger.Printf("cube frame size: %d bytes", frameSize)

	cdelt3 := c.frameDelta()

	if c.Bitpix == SampleF32 && fileExists(ing.cachePath()) {
		ing.logger.Printf("restoring half-float data from %s", ing.cachePath())
		if err := c.readFromCache(ing.cachePath(), frameSize/2, cdelt3, ing.progress); err != nil {
			ingestFailures.WithLabelValues("cache_read").Inc()
			return err
		}
	} else {
		if err := ing.decodeFrames(f, frameSize, cdelt3); err != nil {
			ingestFailures.WithLabelValues("data").Inc()
			return err
		}
	}

	if len(c.Pixels) > 0 {
		ord := c.sortedPixels()
		c.makeHistogram(ord)
		c.classifyFlux(ing.classifier)
	}

	c.markDataLoaded()
	c.Touch()
	ing.progress.Progress(c.DatasetID, progressStageDone, 0, 0)
	ing.logger.Printf("reading FITS data completed in %v", time.Since(start))
	ingestDuration.Observe(time.Since(start).Seconds())

	if c.Bitpix == SampleF32 {
		if err := c.writeHalfCache(ing.cachePath()); err != nil {
			// the cache is an optimization, a failed write never fails the load
			ing.logger.Printf("half-float cache write failed: %v", err)
		}
	}
	ing.symlinkSource(path)

	return nil
}

// readHeader consumes 2880-byte chunks until the END card, retaining the raw
// text and deriving the spectral state.
func (ing *Ingestor) readHeader(f io.Reader) error {
	c := ing.cube

	var raw []byte
	chunk := make([]byte, ChunkLength)
	chunks := 0

	for {
		if _, err := io.ReadFull(f, chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
		}
		chunks++
		done := c.ParseChunk(chunk)
		raw = append(raw, chunk...)
		if done {
			break
		}
	}

	c.DeriveSpectralState()
	c.setHeaderText(raw)
	c.markHeaderLoaded()

	ing.logger.Printf("#hu = %d, %dx%dx%d bitpix=%d", chunks, c.Width, c.Height, c.Depth, c.Bitpix)

	lo, hi := c.FrequencyRange()
	ing.progress.FrequencyRange(c.DatasetID, lo, hi)

	return nil
}

// decodeFrames streams all depth frames through the frame decoder, emitting a
// progress event per frame. Only the first polarisation is read.
func (ing *Ingestor) decodeFrames(f io.Reader, frameSize int, cdelt3 float32) error {
	c := ing.cube
	total := c.Depth
	data := make([]byte, frameSize)

	for frame := int32(0); frame < total; frame++ {
		if _, err := io.ReadFull(f, data); err != nil {
			return fmt.Errorf("fits: %s: reading frame %d: %w", c.DatasetID, frame, err)
		}
		c.addCubeFrame(data, cdelt3, int(frame))
		ing.progress.Progress(c.DatasetID, progressStage, total, frame+1)
	}

	return nil
}

// cachePath maps the dataset identifier onto the half-float cache file,
// flattening any slashes in the id.
func (ing *Ingestor) cachePath() string {
	return filepath.Join(ing.cacheDir, strings.ReplaceAll(ing.cube.DatasetID, "/", "_")+".bin")
}

// symlinkSource links <cache>/<id>.fits back at the original input so later
// runs can locate it. Failure is harmless (the link may already exist).
func (ing *Ingestor) symlinkSource(path string) {
	link := filepath.Join(ing.cacheDir, ing.cube.DatasetID+".fits")
	if err := os.Symlink(path, link); err != nil && !errors.Is(err, os.ErrExist) {
		ing.logger.Printf("cache symlink: %v", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
