package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"
)

// chunkSize: size of each read/write chunk
const chunkSize = 256 * 1024

var bufPool = sync.Pool{
	New: func() interface{} { return make([]byte, chunkSize) },
}

// CopyResult describes a finished copy.
type CopyResult struct {
	Bytes    int64
	Checksum []byte // sha256 of the copied bytes
}

// CopyThrottled copies srcPath to dstPath, limited to rateBytesPerSec (0 means
// unlimited). With verify set, the destination is read back after the sync
// and its checksum compared with the source's.
func CopyThrottled(ctx context.Context, srcPath, dstPath string, rateBytesPerSec int64, verify bool) (CopyResult, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return CopyResult{}, fmt.Errorf("open src: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return CopyResult{}, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), chunkSize) // burst = chunkSize
	}

	buf := bufPool.Get().([]byte)
	defer bufPool.Put(buf)

	var (
		readOff int64
		sum     = sha256.New()
	)
	for {
		n, rerr := src.ReadAt(buf, readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return CopyResult{}, fmt.Errorf("rate limiter error: %w", err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return CopyResult{}, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return CopyResult{}, fmt.Errorf("read error: %w", rerr)
		}
		if err := ctx.Err(); err != nil {
			return CopyResult{}, err
		}
	}

	if err := dst.Sync(); err != nil {
		return CopyResult{}, fmt.Errorf("sync error: %w", err)
	}
	result := CopyResult{Bytes: readOff, Checksum: sum.Sum(nil)}

	if verify {
		got, err := FileChecksum(dstPath)
		if err != nil {
			return CopyResult{}, fmt.Errorf("verify: %w", err)
		}
		if !bytes.Equal(got, result.Checksum) {
			return CopyResult{}, fmt.Errorf("verify: checksum mismatch for %s: %x != %x", dstPath, got, result.Checksum)
		}
	}
	return result, nil
}

// FileChecksum returns the sha256 of the file at path.
func FileChecksum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return nil, err
	}
	return sum.Sum(nil), nil
}
