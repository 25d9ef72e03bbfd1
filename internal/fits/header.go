// Package fits implements the FITS cube ingestion core: header parsing,
// per-frame decoding, statistics aggregation and the half-precision disk cache.
package fits

import (
	"log"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// ChunkLength is the size of a FITS header/data unit block.
	ChunkLength = 2880
	// LineLength is the size of a single FITS header card.
	LineLength = 80
)

// SampleType identifies the on-disk sample encoding of a cube (FITS BITPIX).
type SampleType int32

const (
	SampleU8  SampleType = 8
	SampleI16 SampleType = 16
	SampleI32 SampleType = 32
	SampleF32 SampleType = -32
	SampleF64 SampleType = -64
)

// Valid reports whether the sample type is one of the five supported encodings.
func (s SampleType) Valid() bool {
	switch s {
	case SampleU8, SampleI16, SampleI32, SampleF32, SampleF64:
		return true
	}
	return false
}

// BytesPerSample returns the on-disk width of one sample.
func (s SampleType) BytesPerSample() int {
	if s < 0 {
		return int(-s) / 8
	}
	return int(s) / 8
}

// Header holds the recognized FITS header cards of a cube.
type Header struct {
	ObjName  string
	ObsDate  string
	Timesys  string
	Specsys  string
	BeamUnit string
	BeamType string
	Line     string

	Bmaj    float32
	Bmin    float32
	Bpa     float32
	Restfrq float32
	Obsra   float32
	Obsdec  float32

	Datamin float32
	Datamax float32
	Bscale  float32
	Bzero   float32
	Ignrval float32

	Bitpix       SampleType
	Naxis        int32
	Naxes        [4]int32
	Width        int32
	Height       int32
	Depth        int32
	Polarisation int32

	Crval1, Cdelt1, Crpix1 float32
	Crval2, Cdelt2, Crpix2 float32
	Crval3, Cdelt3, Crpix3 float32
	Cunit1, Ctype1         string
	Cunit2, Ctype2         string
	Cunit3, Ctype3         string

	HasFrequency    bool
	HasVelocity     bool
	FrameMultiplier float32
}

// NewHeader returns a header with the FITS defaults: open clamp bounds,
// a single frame and a single polarisation.
func NewHeader() Header {
	return Header{
		Datamin:         -math.MaxFloat32,
		Datamax:         math.MaxFloat32,
		Ignrval:         -math.MaxFloat32,
		Depth:           1,
		Polarisation:    1,
		FrameMultiplier: 1.0,
	}
}

// ParseChunk consumes one 2880-byte header block, card by card. It returns
// true when the END card (or a non-UTF-8 card) has been seen and the header
// is complete.
func (h *Header) ParseChunk(chunk []byte) bool {
	for offset := 0; offset+LineLength <= len(chunk); offset += LineLength {
		card := chunk[offset : offset+LineLength]

		if !utf8.Valid(card) {
			log.Printf("[fits] non-UTF8 characters found in header card, stopping")
			return true
		}

		line := string(card)
		key := strings.TrimRight(line[:8], " ")

		if key == "END" {
			return true
		}

		// only KEY = VALUE cards carry data; COMMENT/HISTORY have no '= '
		if len(line) < 10 || line[8:10] != "= " {
			continue
		}
		value := cardValue(line[10:])

		h.applyCard(key, value)
	}

	return false
}

func (h *Header) applyCard(key, value string) {
	switch key {
	case "OBJECT":
		h.ObjName = value
	case "DATE-OBS":
		h.ObsDate = value
	case "LINE", "J_LINE":
		h.Line = value
	case "SPECSYS":
		h.Specsys = value
	case "TIMESYS":
		h.Timesys = value
	case "BTYPE":
		h.BeamType = value
	case "BUNIT":
		h.BeamUnit = value
	case "BITPIX":
		h.Bitpix = SampleType(parseInt(value, 0))
	case "NAXIS":
		h.Naxis = parseInt(value, 0)
	case "NAXIS1":
		h.Width = parseInt(value, 0)
		h.Naxes[0] = h.Width
	case "NAXIS2":
		h.Height = parseInt(value, 0)
		h.Naxes[1] = h.Height
	case "NAXIS3":
		h.Depth = parseInt(value, 1)
		h.Naxes[2] = h.Depth
	case "NAXIS4":
		h.Polarisation = parseInt(value, 1)
		h.Naxes[3] = h.Polarisation
	case "BMAJ":
		h.Bmaj = parseFloat(value, 0)
	case "BMIN":
		h.Bmin = parseFloat(value, 0)
	case "BPA":
		h.Bpa = parseFloat(value, 0)
	case "RESTFRQ", "RESTFREQ":
		h.Restfrq = parseFloat(value, 0)
	case "OBSRA":
		h.Obsra = parseFloat(value, 0)
	case "OBSDEC":
		h.Obsdec = parseFloat(value, 0)
	case "DATAMIN":
		h.Datamin = parseFloat(value, -math.MaxFloat32)
	case "DATAMAX":
		h.Datamax = parseFloat(value, math.MaxFloat32)
	case "BSCALE":
		h.Bscale = parseFloat(value, 0)
	case "BZERO":
		h.Bzero = parseFloat(value, 0)
	case "IGNRVAL":
		h.Ignrval = parseFloat(value, -math.MaxFloat32)
	case "CRVAL1":
		h.Crval1 = parseFloat(value, 0)
	case "CRVAL2":
		h.Crval2 = parseFloat(value, 0)
	case "CRVAL3":
		h.Crval3 = parseFloat(value, 0)
	case "CDELT1":
		h.Cdelt1 = parseFloat(value, 0)
	case "CDELT2":
		h.Cdelt2 = parseFloat(value, 0)
	case "CDELT3":
		h.Cdelt3 = parseFloat(value, 0)
	case "CRPIX1":
		h.Crpix1 = parseFloat(value, 0)
	case "CRPIX2":
		h.Crpix2 = parseFloat(value, 0)
	case "CRPIX3":
		h.Crpix3 = parseFloat(value, 0)
	case "CUNIT1":
		h.Cunit1 = value
	case "CUNIT2":
		h.Cunit2 = value
	case "CUNIT3":
		h.Cunit3 = value
	case "CTYPE1":
		h.Ctype1 = value
	case "CTYPE2":
		h.Ctype2 = value
	case "CTYPE3":
		h.Ctype3 = value
	}
}

// DeriveSpectralState inspects CUNIT3/CTYPE3/RESTFRQ and fixes the
// frequency/velocity semantics plus the frame multiplier of the third axis.
func (h *Header) DeriveSpectralState() {
	switch strings.ToUpper(strings.TrimSpace(h.Cunit3)) {
	case "HZ":
		h.HasFrequency = true
		h.FrameMultiplier = 1.0
	case "KHZ":
		h.HasFrequency = true
		h.FrameMultiplier = 1000.0
	case "MHZ":
		h.HasFrequency = true
		h.FrameMultiplier = 1000000.0
	case "GHZ":
		h.HasFrequency = true
		h.FrameMultiplier = 1000000000.0
	case "THZ":
		h.HasFrequency = true
		h.FrameMultiplier = 1000000000000.0
	case "M/S":
		h.HasVelocity = true
		h.FrameMultiplier = 1.0
	case "KM/S":
		h.HasVelocity = true
		h.FrameMultiplier = 1000.0
	}

	if strings.ContainsAny(h.Ctype3, "Ff") {
		h.HasFrequency = true
	}
	if strings.ContainsAny(h.Ctype3, "Vv") {
		h.HasVelocity = true
	}

	if h.Restfrq > 0.0 {
		h.HasFrequency = true
	}
}

// FrameSize returns the byte size of one decoded frame, or 0 when the header
// does not describe a usable cube.
func (h *Header) FrameSize() int {
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 || !h.Bitpix.Valid() {
		return 0
	}
	return int(h.Width) * int(h.Height) * h.Bitpix.BytesPerSample()
}

// cardValue extracts the value portion of a card: apostrophes stripped,
// inline comment removed, trailing whitespace dropped.
func cardValue(s string) string {
	if idx := strings.Index(s, " /"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "'", "")
	return strings.TrimSpace(s)
}

func parseInt(s string, def int32) int32 {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		// FITS integers occasionally carry a float notation
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int32(f)
		}
		return def
	}
	return int32(v)
}

func parseFloat(s string, def float32) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return def
	}
	return float32(v)
}
