package imagepipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ad_publisher/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gradient(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: alpha})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h, 255), &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h, alpha)))
	return buf.Bytes()
}

// setPNGSize rewrites the dimensions in the IHDR chunk of an encoded PNG.
func setPNGSize(data []byte, w, h uint32) {
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
}

type fakeSource struct {
	objects map[string][]byte
}

func (s *fakeSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", ref, domain.ErrNotFound)
	}
	return data, nil
}

type fakeImages struct {
	mu      sync.Mutex
	calls   int32
	names   []string
	tokens  []string
	err     error
	release chan struct{}

	// rejected fails uploads made with the given tokens
	rejected map[string]error
}

func (f *fakeImages) UploadImage(ctx context.Context, token, name string, data []byte) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if err := f.rejected[token]; err != nil {
		return "", err
	}

	f.mu.Lock()
	f.names = append(f.names, name)
	f.mu.Unlock()

	return fmt.Sprintf("hash_%d", n), nil
}

func (f *fakeImages) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

var testCred = &domain.Credential{OwnerID: "owner-1", Type: domain.CredentialUser, Token: "tok"}
