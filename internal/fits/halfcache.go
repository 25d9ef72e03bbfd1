package fits

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/x448/float16"
)

// readFromCache restores the half-precision mirror from a previously written
// cache file instead of re-decoding the FITS data. frameSize is the per-frame
// byte length in the cache (W*H little-endian binary16 samples). The pixel
// accumulator, mask and spectra are rebuilt exactly as in the decode path.
func (c *Cube) readFromCache(path string, frameSize int, cdelt3 float32, sink ProgressSink) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fits: open half-float cache %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, frameSize)
	buf := make([]byte, frameSize)
	total := c.Depth

	for frame := int32(0); frame < total; frame++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("fits: %s: reading cached frame %d: %w", c.DatasetID, frame, err)
		}

		length := len(buf) / 2
		data := make([]float16.Float16, length)
		var stats frameStats

		for i := 0; i < length; i++ {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:]))
			c.accumulate(i, c.Bzero+c.Bscale*data[i].Float32(), &stats)
		}

		c.DataF16[frame] = data
		c.finishFrame(int(frame), cdelt3, stats)
		framesFromCache.Inc()
		sink.Progress(c.DatasetID, progressStage, total, frame+1)
	}

	return nil
}

// writeHalfCache persists the half-precision mirror: D frames of W*H
// little-endian binary16 samples, no header, no padding. The write goes to a
// temporary file first and renames into place; a failed write removes the
// temporary so a partial cache is never picked up.
func (c *Cube) writeHalfCache(path string) error {
	if len(c.DataF16) == 0 {
		return nil
	}
	if fileExists(path) {
		return nil
	}

	log.Printf("[fits] %s: writing half-float data to cache", c.DatasetID)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fits: create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	for frame := range c.DataF16 {
		raw := make([]byte, 2*len(c.DataF16[frame]))
		for i, v := range c.DataF16[frame] {
			binary.LittleEndian.PutUint16(raw[2*i:], v.Bits())
		}
		if _, err := w.Write(raw); err != nil {
			return fail(fmt.Errorf("fits: cache write: %w", err))
		}
	}

	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("fits: cache flush: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fits: cache close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fits: cache rename: %w", err)
	}

	cacheWrites.Inc()
	return nil
}
