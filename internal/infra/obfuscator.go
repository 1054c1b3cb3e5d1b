package infra

import (
	"errors"
	"io"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

const (
	// quarantineXORKey neutralizes quarantined bytes so the copy is not a
	// runnable executable. It is not a confidentiality measure.
	quarantineXORKey byte = 0xAA

	transformBufferSize = 32 * 1024
)

// XORTransform implements domain.ContentTransform with a single-byte XOR.
// Encode and Decode are the same operation.
type XORTransform struct {
	key     byte
	bufSize int
}

// NewXORTransform creates the quarantine content transform.
func NewXORTransform() *XORTransform {
	return &XORTransform{key: quarantineXORKey, bufSize: transformBufferSize}
}

// Encode streams src into dst with every byte XORed.
func (x *XORTransform) Encode(dst io.Writer, src io.Reader) (int64, error) {
	return x.apply(dst, src)
}

// Decode reverses Encode.
func (x *XORTransform) Decode(dst io.Writer, src io.Reader) (int64, error) {
	return x.apply(dst, src)
}

func (x *XORTransform) apply(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, x.bufSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				buf[i] ^= x.key
			}
			written, err := dst.Write(buf[:n])
			total += int64(written)
			if err != nil {
				return total, err
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// Ensure XORTransform implements domain.ContentTransform.
var _ domain.ContentTransform = (*XORTransform)(nil)
