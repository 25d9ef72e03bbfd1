package fits

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestAddCubeFrameU8(t *testing.T) {
	c := NewCube("u8", "")
	c.Bitpix = SampleU8
	c.Width, c.Height, c.Depth = 2, 2, 2
	c.Bscale, c.Bzero = 1.0, 0.0
	c.Datamin, c.Datamax = 0.0, 255.0
	require.NotZero(t, c.initDataStorage())

	c.addCubeFrame([]byte{0, 1, 2, 3}, 1.0, 0)
	c.addCubeFrame([]byte{4, 5, 6, 7}, 1.0, 1)

	assert.Equal(t, []float32{1.5, 5.5}, c.MeanSpectrum)
	assert.Equal(t, []float32{6.0, 22.0}, c.IntegratedSpectrum)
	assert.Equal(t, []float32{4, 6, 8, 10}, c.Pixels)
	assert.Equal(t, []bool{true, true, true, true}, c.Mask)
	assert.Equal(t, []uint8{0, 1, 2, 3}, c.DataU8[0])
	assert.Equal(t, []uint8{4, 5, 6, 7}, c.DataU8[1])
}

func TestAddCubeFrameF32ClampsInvalid(t *testing.T) {
	c := NewCube("f32", "")
	c.Bitpix = SampleF32
	c.Width, c.Height, c.Depth = 1, 1, 2
	c.Bscale, c.Bzero = 1.0, 0.0
	c.Datamin, c.Datamax = 0.0, 10.0
	require.NotZero(t, c.initDataStorage())

	frame0 := make([]byte, 4)
	binary.BigEndian.PutUint32(frame0, math.Float32bits(5.0))
	frame1 := make([]byte, 4)
	binary.BigEndian.PutUint32(frame1, math.Float32bits(float32(math.NaN())))

	c.addCubeFrame(frame0, 1.0, 0)
	c.addCubeFrame(frame1, 1.0, 1)

	assert.Equal(t, []float32{5.0, 0.0}, c.MeanSpectrum)
	assert.Equal(t, []bool{true}, c.Mask)
	assert.Equal(t, []float32{5.0}, c.Pixels)

	assert.Equal(t, float16.Fromfloat32(5.0), c.DataF16[0][0])
	assert.True(t, c.DataF16[1][0].IsNaN(), "the archival mirror keeps the NaN")
}

func TestAddCubeFrameI16BigEndian(t *testing.T) {
	c := NewCube("i16", "")
	c.Bitpix = SampleI16
	c.Width, c.Height, c.Depth = 2, 1, 1
	c.Bscale, c.Bzero = 2.0, 100.0
	require.NotZero(t, c.initDataStorage())

	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:], uint16(0x0102))      // 258
	binary.BigEndian.PutUint16(buf[2:], uint16(0xffff))      // -1
	c.addCubeFrame(buf, 1.0, 0)

	assert.Equal(t, []int16{258, -1}, c.DataI16[0])
	assert.Equal(t, []float32{100 + 2*258, 100 - 2}, c.Pixels)
}

func TestAddCubeFrameF64(t *testing.T) {
	c := NewCube("f64", "")
	c.Bitpix = SampleF64
	c.Width, c.Height, c.Depth = 1, 1, 1
	c.Bscale, c.Bzero = 1.0, 0.0
	require.NotZero(t, c.initDataStorage())

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(2.25))
	c.addCubeFrame(buf, 1.0, 0)

	assert.Equal(t, []float64{2.25}, c.DataF64[0])
	assert.Equal(t, []float32{2.25}, c.Pixels)
	assert.Equal(t, []float32{2.25}, c.MeanSpectrum)
}

func TestAddCubeFrameIgnoresOutOfRange(t *testing.T) {
	c := NewCube("clamp", "")
	c.Bitpix = SampleU8
	c.Width, c.Height, c.Depth = 2, 1, 1
	c.Bscale, c.Bzero = 1.0, 0.0
	c.Datamin, c.Datamax = 10.0, 20.0
	require.NotZero(t, c.initDataStorage())

	c.addCubeFrame([]byte{5, 15}, 1.0, 0)

	assert.Equal(t, []bool{false, true}, c.Mask)
	assert.Equal(t, []float32{0, 15}, c.Pixels)
	assert.Equal(t, []float32{15}, c.MeanSpectrum)
}

func TestAddCubeFrameDeterministic(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:], math.Float32bits(1.5))
	binary.BigEndian.PutUint32(buf[4:], math.Float32bits(-2.5))

	decode := func() *Cube {
		c := NewCube("det", "")
		c.Bitpix = SampleF32
		c.Width, c.Height, c.Depth = 2, 1, 1
		c.Bscale = 1.0
		require.NotZero(t, c.initDataStorage())
		c.addCubeFrame(buf, 1.0, 0)
		return c
	}

	a, b := decode(), decode()
	assert.Equal(t, a.DataF16, b.DataF16)
	assert.Equal(t, a.Pixels, b.Pixels)
	assert.Equal(t, a.MeanSpectrum, b.MeanSpectrum)
	assert.Equal(t, a.Mask, b.Mask)
}

func TestAddCubeFrameShortBuffer(t *testing.T) {
	c := NewCube("short", "")
	c.Bitpix = SampleU8
	c.Width, c.Height, c.Depth = 2, 2, 1
	c.Bscale = 1.0
	require.NotZero(t, c.initDataStorage())

	// only two of four samples present; the rest are treated as invalid
	c.addCubeFrame([]byte{1, 2}, 1.0, 0)

	assert.Equal(t, []bool{true, true, false, false}, c.Mask)
	assert.Equal(t, []float32{1.5}, c.MeanSpectrum)
}
