package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatGIF  ImageFormat = "gif"
	FormatWEBP ImageFormat = "webp"
)

// ProcessedAsset is an image after re-encoding. Its identity is Checksum.
type ProcessedAsset struct {
	Key      string      `json:"key"`
	Data     []byte      `json:"-"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Format   ImageFormat `json:"format"`
	Size     int         `json:"size"`
	Checksum string      `json:"checksum"`
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
