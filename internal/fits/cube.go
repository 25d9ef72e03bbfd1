package fits

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/x448/float16"
)

// NBins is the number of buckets in the global intensity histogram.
const NBins = 1024

// Cube is a loaded dataset: the parsed header, the per-frame sample buffers in
// their original encoding, the half-precision mirror, and the aggregated
// statistics. A Cube starts life as a dummy registry placeholder; the owning
// ingestor mutates it under the write lock until the data is loaded, after
// which it is read-only.
type Cube struct {
	Header

	DatasetID string
	DataID    string
	FilePath  string

	// per-frame sample storage, exactly one of these is populated
	DataU8  [][]uint8
	DataI16 [][]int16
	DataI32 [][]int32
	DataF16 [][]float16.Float16
	DataF64 [][]float64

	MeanSpectrum       []float32
	IntegratedSpectrum []float32
	Pixels             []float32
	Mask               []bool

	Min         float32
	Max         float32
	Median      float32
	MAD         float32
	MADP        float32
	MADN        float32
	Black       float32
	White       float32
	Sensitivity float32
	Hist        []int32
	Flux        string

	// raw header text, kept lz4-compressed
	compressedHeader []byte
	headerLen        int

	mu         sync.RWMutex
	hasHeader  atomic.Bool
	hasData    atomic.Bool
	dummy      atomic.Bool
	lastAccess atomic.Int64
}

// NewCube creates a dummy placeholder for a dataset identifier. The flux mode
// may be preset by the caller; when empty it is classified from the histogram.
func NewCube(id, flux string) *Cube {
	c := &Cube{
		Header:    NewHeader(),
		DatasetID: id,
		DataID:    fmt.Sprintf("%s_00_00_00", id),
		Flux:      flux,
	}
	c.dummy.Store(true)
	c.Touch()
	return c
}

// Touch updates the last-access timestamp.
func (c *Cube) Touch() {
	c.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns the time of the most recent Touch.
func (c *Cube) LastAccess() time.Time {
	return time.Unix(0, c.lastAccess.Load())
}

// IsDummy reports whether ingestion has not yet completed for this cube.
func (c *Cube) IsDummy() bool { return c.dummy.Load() }

// HasHeader reports whether the FITS header has been parsed.
func (c *Cube) HasHeader() bool { return c.hasHeader.Load() }

// HasData reports whether all frames have been decoded.
func (c *Cube) HasData() bool { return c.hasData.Load() }

func (c *Cube) markHeaderLoaded() { c.hasHeader.Store(true) }

func (c *Cube) markDataLoaded() {
	c.hasData.Store(true)
	c.dummy.Store(false)
}

// Lock acquires the writer lock for the ingestion phase.
func (c *Cube) Lock() { c.mu.Lock() }

// Unlock releases the writer lock.
func (c *Cube) Unlock() { c.mu.Unlock() }

// RLock acquires a reader lock on the cube contents.
func (c *Cube) RLock() { c.mu.RLock() }

// RUnlock releases a reader lock.
func (c *Cube) RUnlock() { c.mu.RUnlock() }

// TryRLockFor attempts a reader lock until the deadline elapses. HTTP
// handlers use this as the bounded long-poll; failure means the ingestor
// still holds the cube.
func (c *Cube) TryRLockFor(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.mu.TryRLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// initDataStorage sizes the pixel accumulator, mask, spectra and the
// per-frame buffers for the declared sample type. It returns the frame size
// in bytes, 0 when the header does not describe a usable cube.
func (c *Cube) initDataStorage() int {
	if c.Width <= 0 || c.Height <= 0 || c.Depth <= 0 {
		return 0
	}

	capacity := int(c.Width) * int(c.Height)
	depth := int(c.Depth)

	c.Mask = make([]bool, capacity)
	c.Pixels = make([]float32, capacity)
	c.MeanSpectrum = make([]float32, depth)
	c.IntegratedSpectrum = make([]float32, depth)

	switch c.Bitpix {
	case SampleU8:
		c.DataU8 = make([][]uint8, depth)
	case SampleI16:
		c.DataI16 = make([][]int16, depth)
	case SampleI32:
		c.DataI32 = make([][]int32, depth)
	case SampleF32:
		c.DataF16 = make([][]float16.Float16, depth)
	case SampleF64:
		c.DataF64 = make([][]float64, depth)
	default:
		log.Printf("[fits] unsupported bitpix: %d", c.Bitpix)
		return 0
	}

	return c.FrameSize()
}

// frameDelta returns the spectral width of one frame, used to scale the
// integrated spectrum. It is 1 unless the cube has velocity semantics.
func (c *Cube) frameDelta() float32 {
	if c.HasVelocity && c.Depth > 1 {
		return c.Cdelt3 * c.FrameMultiplier / 1000.0
	}
	return 1.0
}

// setHeaderText stores the raw header bytes, lz4-compressed.
func (c *Cube) setHeaderText(raw []byte) {
	c.headerLen = len(raw)
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(raw, buf)
	if err != nil || n == 0 {
		// incompressible or failed, keep the raw bytes
		c.compressedHeader = append([]byte(nil), raw...)
		c.headerLen = -1
		return
	}
	c.compressedHeader = buf[:n]
	log.Printf("[fits] %s: header %d bytes, lz4-compressed %d bytes", c.DatasetID, len(raw), n)
}

// HeaderText returns the raw header card text.
func (c *Cube) HeaderText() string {
	if c.headerLen < 0 {
		return string(c.compressedHeader)
	}
	if len(c.compressedHeader) == 0 {
		return ""
	}
	out := make([]byte, c.headerLen)
	n, err := lz4.UncompressBlock(c.compressedHeader, out)
	if err != nil {
		log.Printf("[fits] %s: header decompression failed: %v", c.DatasetID, err)
		return ""
	}
	return string(out[:n])
}

// speed of light [m/s]
const lightSpeed = 299792458.0

// FrequencyRange computes the cube's spectral coverage in GHz. Cubes without
// frequency semantics, and single-frame cubes, report (0, 0).
func (c *Cube) FrequencyRange() (float64, float64) {
	if c.Depth <= 1 || !c.HasFrequency {
		return 0, 0
	}

	m := float64(c.FrameMultiplier)
	crval3 := float64(c.Crval3) * m
	cdelt3 := float64(c.Cdelt3) * m
	crpix3 := float64(c.Crpix3)

	v := func(x float64) float64 { return crval3 + cdelt3*(x-crpix3) }

	var f1, f2 float64
	if c.HasVelocity {
		relativistic := func(vel float64) float64 {
			return float64(c.Restfrq) * math.Sqrt((1.0-vel/lightSpeed)/(1.0+vel/lightSpeed))
		}
		f1 = relativistic(v(1))
		f2 = relativistic(v(float64(c.Depth)))
	} else {
		f1 = v(1)
		f2 = v(float64(c.Depth))
	}

	return math.Min(f1, f2) / 1e9, math.Max(f1, f2) / 1e9
}

// ToJSON serializes the metadata payload handed to a viewer once the cube is
// ready: the header cards, the spectra and the display statistics.
func (c *Cube) ToJSON() (string, error) {
	payload := map[string]interface{}{
		"HEADER":              c.HeaderText(),
		"width":               c.Width,
		"height":              c.Height,
		"depth":               c.Depth,
		"polarisation":        c.Polarisation,
		"filesize":            0,
		"IGNRVAL":             c.Ignrval,
		"CRVAL1":              c.Crval1,
		"CRVAL2":              c.Crval2,
		"CRVAL3":              c.Crval3,
		"CDELT1":              c.Cdelt1,
		"CDELT2":              c.Cdelt2,
		"CDELT3":              c.Cdelt3,
		"CRPIX1":              c.Crpix1,
		"CRPIX2":              c.Crpix2,
		"CRPIX3":              c.Crpix3,
		"CUNIT1":              c.Cunit1,
		"CUNIT2":              c.Cunit2,
		"CUNIT3":              c.Cunit3,
		"CTYPE1":              c.Ctype1,
		"CTYPE2":              c.Ctype2,
		"CTYPE3":              c.Ctype3,
		"BMAJ":                c.Bmaj,
		"BMIN":                c.Bmin,
		"BPA":                 c.Bpa,
		"BUNIT":               c.BeamUnit,
		"BTYPE":               c.BeamType,
		"SPECSYS":             c.Specsys,
		"RESTFRQ":             c.Restfrq,
		"OBSRA":               c.Obsra,
		"OBSDEC":              c.Obsdec,
		"OBJECT":              c.ObjName,
		"DATEOBS":             c.ObsDate,
		"TIMESYS":             c.Timesys,
		"LINE":                c.Line,
		"mean_spectrum":       c.MeanSpectrum,
		"integrated_spectrum": c.IntegratedSpectrum,
		"min":                 c.Min,
		"max":                 c.Max,
		"median":              c.Median,
		"sensitivity":         c.Sensitivity,
		"black":               c.Black,
		"white":               c.White,
		"flux":                c.Flux,
		"histogram":           c.Hist,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fits: metadata serialization: %w", err)
	}
	return string(b), nil
}
