package fits

import (
	"encoding/binary"
	"log"
	"math"

	"github.com/x448/float16"
)

// frameStats carries the per-frame reduction of the decode loop.
type frameStats struct {
	sum   float32
	count int32
}

// addCubeFrame decodes one frame of W*H big-endian samples from buf into the
// original-type buffer, converts each sample to its physical float value, and
// folds every valid sample into the pixel accumulator and mask. A sample is
// valid iff bzero + bscale*sample is finite and within [datamin, datamax].
//
// A short buffer never aborts the frame: the remaining elements are treated
// as invalid and the shortfall is logged once.
func (c *Cube) addCubeFrame(buf []byte, cdelt3 float32, frame int) {
	length := int(c.Width) * int(c.Height)
	var stats frameStats

	switch c.Bitpix {
	case SampleU8:
		if short := length - len(buf); short > 0 {
			log.Printf("[fits] %s: frame %d short by %d samples", c.DatasetID, frame, short)
			length = len(buf)
		}
		data := make([]uint8, length)
		copy(data, buf[:length])
		c.DataU8[frame] = data

		for i := 0; i < length; i++ {
			c.accumulate(i, c.Bzero+c.Bscale*float32(data[i]), &stats)
		}

	case SampleI16:
		length = c.clipLength(length, len(buf)/2, frame)
		data := make([]int16, length)
		for i := 0; i < length; i++ {
			data[i] = int16(binary.BigEndian.Uint16(buf[2*i:]))
			c.accumulate(i, c.Bzero+c.Bscale*float32(data[i]), &stats)
		}
		c.DataI16[frame] = data

	case SampleI32:
		length = c.clipLength(length, len(buf)/4, frame)
		data := make([]int32, length)
		for i := 0; i < length; i++ {
			data[i] = int32(binary.BigEndian.Uint32(buf[4*i:]))
			c.accumulate(i, c.Bzero+c.Bscale*float32(data[i]), &stats)
		}
		c.DataI32[frame] = data

	case SampleF32:
		length = c.clipLength(length, len(buf)/4, frame)
		data := make([]float16.Float16, length)
		for i := 0; i < length; i++ {
			f32 := math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:]))
			data[i] = float16.Fromfloat32(f32)
			c.accumulate(i, c.Bzero+c.Bscale*f32, &stats)
		}
		c.DataF16[frame] = data

	case SampleF64:
		length = c.clipLength(length, len(buf)/8, frame)
		data := make([]float64, length)
		for i := 0; i < length; i++ {
			data[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
			c.accumulate(i, c.Bzero+c.Bscale*float32(data[i]), &stats)
		}
		c.DataF64[frame] = data

	default:
		log.Printf("[fits] unsupported bitpix: %d", c.Bitpix)
		return
	}

	c.finishFrame(frame, cdelt3, stats)
	framesDecoded.Inc()
}

// accumulate folds a converted sample into the per-pixel accumulator and the
// frame reduction when it passes the validity criterion.
func (c *Cube) accumulate(i int, value float32, stats *frameStats) {
	if !isFinite32(value) || value < c.Datamin || value > c.Datamax {
		return
	}
	c.Pixels[i] += value
	c.Mask[i] = true
	stats.sum += value
	stats.count++
}

// finishFrame records the per-frame mean and integrated intensities.
func (c *Cube) finishFrame(frame int, cdelt3 float32, stats frameStats) {
	if stats.count > 0 {
		c.MeanSpectrum[frame] = stats.sum / float32(stats.count)
		c.IntegratedSpectrum[frame] = stats.sum * cdelt3
	}
}

func (c *Cube) clipLength(want, have, frame int) int {
	if have < want {
		log.Printf("[fits] %s: frame %d short by %d samples", c.DatasetID, frame, want-have)
		return have
	}
	return want
}

func isFinite32(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
