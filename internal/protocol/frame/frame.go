package frame

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrEmptyFrame      = errors.New("frame: empty frame")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
	ErrInvalidChunking = errors.New("frame: invalid chunk size")
)

// Limits constrains how frames are paced onto a link. Firmware receive
// buffers are small, so frames go out in short slices with a gap between.
type Limits struct {
	ChunkSize     int
	ChunkDelay    time.Duration
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		ChunkSize:     20,
		ChunkDelay:    time.Millisecond,
		MaxFrameBytes: 8 * 1024,
	}
}

// WriteChunked writes f to w in ChunkSize slices separated by ChunkDelay.
// Cancellation is observed between slices only.
func WriteChunked(ctx context.Context, w io.Writer, f []byte, limits Limits) error {
	if len(f) == 0 {
		return ErrEmptyFrame
	}
	if limits.ChunkSize <= 0 {
		return ErrInvalidChunking
	}
	if limits.MaxFrameBytes > 0 && len(f) > limits.MaxFrameBytes {
		return ErrFrameTooLarge
	}

	for start := 0; start < len(f); start += limits.ChunkSize {
		if start > 0 {
			if err := pause(ctx, limits.ChunkDelay); err != nil {
				return err
			}
		}
		end := min(start+limits.ChunkSize, len(f))
		if _, err := w.Write(f[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Chunks returns the slices WriteChunked would emit.
func Chunks(f []byte, size int) [][]byte {
	if size <= 0 || len(f) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(f)+size-1)/size)
	for start := 0; start < len(f); start += size {
		out = append(out, f[start:min(start+size, len(f))])
	}
	return out
}

func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
