package server

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const chunkSize = 64 << 10

// writeThrottled writes data in chunks, waiting on a limiter of
// bytesPerSecond. A non-positive rate writes unthrottled.
func writeThrottled(ctx context.Context, w io.Writer, data []byte, bytesPerSecond int) error {
	if bytesPerSecond <= 0 {
		_, err := w.Write(data)
		return err
	}

	burst := min(chunkSize, bytesPerSecond)
	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	for len(data) > 0 {
		n := min(len(data), burst)
		if err := limiter.WaitN(ctx, n); err != nil {
			return err
		}
		if _, err := w.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
