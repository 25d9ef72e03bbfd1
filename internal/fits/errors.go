package fits

import (
	"errors"
	"fmt"
)

var (
	// ErrTooSmall is returned when a file is shorter than one FITS chunk.
	ErrTooSmall = errors.New("fits: file smaller than one 2880-byte chunk")

	// ErrHeaderTruncated is returned when the file ends before the END card.
	ErrHeaderTruncated = errors.New("fits: header truncated before END card")
)

// UnsupportedBitpixError reports a BITPIX value outside the enumerated set.
type UnsupportedBitpixError struct {
	Bitpix int32
}

func (e *UnsupportedBitpixError) Error() string {
	return fmt.Sprintf("fits: unsupported bitpix %d", e.Bitpix)
}
