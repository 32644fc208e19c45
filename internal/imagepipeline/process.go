package imagepipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"ad_publisher/internal/domain"
)

// ProcessorConfig controls how creatives are normalized before upload.
type ProcessorConfig struct {
	MinWidth    int
	MinHeight   int
	MaxWidth    int
	MaxHeight   int
	MaxPixels   int64
	Format      domain.ImageFormat
	JPEGQuality int
}

// Processor decodes, downscales and re-encodes creatives. Output is a pure
// function of the input bytes and the config, so identical inputs share a
// checksum.
type Processor struct {
	cfg ProcessorConfig
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Format == "" {
		cfg.Format = domain.FormatJPEG
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = jpeg.DefaultQuality
	}
	return &Processor{cfg: cfg}
}

// Process normalizes one creative. Images whose header declares more than
// MaxPixels are rejected without being decoded, and images that would end up
// below the minimum dimensions after fitting into the maximum are rejected
// instead of being uploaded undersized.
func (p *Processor) Process(key string, data []byte) (*domain.ProcessedAsset, error) {
	invalid := func(v domain.Violation) error {
		return &domain.ValidationError{Subject: "creative " + key, Violations: []domain.Violation{v}}
	}
	unsupported := func(err error) error {
		return invalid(domain.Violation{
			Code:    CodeUnsupportedFormat,
			Message: fmt.Sprintf("decode image: %v", err),
			Hard:    true,
		})
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, unsupported(err)
	}
	if p.cfg.MaxPixels > 0 && int64(hdr.Width)*int64(hdr.Height) > p.cfg.MaxPixels {
		return nil, invalid(tooManyPixels(hdr.Width, hdr.Height, p.cfg.MaxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, unsupported(err)
	}

	b := src.Bounds()
	if b.Dx() < p.cfg.MinWidth || b.Dy() < p.cfg.MinHeight {
		return nil, invalid(domain.Violation{
			Code:    CodeBelowMinDimensions,
			Message: fmt.Sprintf("image is %dx%d, minimum is %dx%d", b.Dx(), b.Dy(), p.cfg.MinWidth, p.cfg.MinHeight),
			Hard:    true,
		})
	}

	w, h := fitWithin(b.Dx(), b.Dy(), p.cfg.MaxWidth, p.cfg.MaxHeight)
	if w < p.cfg.MinWidth || h < p.cfg.MinHeight {
		return nil, invalid(domain.Violation{
			Code: CodeBelowMinDimensions,
			Message: fmt.Sprintf("image is %dx%d; fitting it into %dx%d gives %dx%d, below the minimum %dx%d",
				b.Dx(), b.Dy(), p.cfg.MaxWidth, p.cfg.MaxHeight, w, h, p.cfg.MinWidth, p.cfg.MinHeight),
			Hard: true,
		})
	}
	rect := image.Rect(0, 0, w, h)

	var buf bytes.Buffer
	switch p.cfg.Format {
	case domain.FormatPNG:
		dst := image.NewNRGBA(rect)
		draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := enc.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		// JPEG has no alpha channel, flatten onto white
		dst := image.NewRGBA(rect)
		draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.CatmullRom.Scale(dst, rect, src, b, draw.Over, nil)
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.cfg.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}

	out := buf.Bytes()
	return &domain.ProcessedAsset{
		Key:      key,
		Data:     out,
		Width:    w,
		Height:   h,
		Format:   p.cfg.Format,
		Size:     len(out),
		Checksum: domain.Checksum(out),
	}, nil
}

// fitWithin scales w×h down to fit maxW×maxH keeping the aspect ratio.
// Images that already fit are left at their size.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if (maxW <= 0 || w <= maxW) && (maxH <= 0 || h <= maxH) {
		return w, h
	}

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}

	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
