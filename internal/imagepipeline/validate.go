package imagepipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"

	"ad_publisher/internal/domain"
)

const (
	CodeUnsupportedFormat  = "unsupported_format"
	CodeFileTooLarge       = "file_too_large"
	CodeBelowMinDimensions = "below_min_dimensions"
	CodeTooManyPixels      = "too_many_pixels"
	CodeAspectRatio        = "aspect_ratio"
)

// Aspect ratios (width / height) the platform renders without cropping.
var recommendedRatios = []struct {
	name  string
	ratio float64
}{
	{"1:1", 1},
	{"1.91:1", 1.91},
	{"4:5", 0.8},
}

// Requirements are the platform constraints a creative has to meet.
type Requirements struct {
	MinWidth        int
	MinHeight       int
	MaxBytes        int64
	// MaxPixels bounds width*height as declared by the image header, so
	// oversized images are rejected before they are decoded.
	MaxPixels       int64
	AspectTolerance float64
}

// Report is the outcome of validating one creative.
type Report struct {
	Key        string
	Format     domain.ImageFormat
	Width      int
	Height     int
	Size       int
	Violations []domain.Violation
}

// Err returns a *domain.ValidationError when the report carries a hard
// violation.
func (r Report) Err() error {
	var hard []domain.Violation
	for _, v := range r.Violations {
		if v.Hard {
			hard = append(hard, v)
		}
	}
	if len(hard) == 0 {
		return nil
	}
	return &domain.ValidationError{Subject: "creative " + r.Key, Violations: hard}
}

func (r Report) Warnings() []string {
	var out []string
	for _, v := range r.Violations {
		if !v.Hard {
			out = append(out, v.Message)
		}
	}
	return out
}

type Validator struct {
	req Requirements
}

func NewValidator(req Requirements) *Validator {
	return &Validator{req: req}
}

// Validate checks format, size, dimensions and aspect ratio without decoding
// the full image.
func (v *Validator) Validate(key string, data []byte) Report {
	r := Report{Key: key, Size: len(data)}

	if v.req.MaxBytes > 0 && int64(len(data)) > v.req.MaxBytes {
		r.Violations = append(r.Violations, domain.Violation{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file exceeds %d bytes", v.req.MaxBytes),
			Hard:    true,
		})
		return r
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		r.Violations = append(r.Violations, domain.Violation{
			Code:    CodeUnsupportedFormat,
			Message: "image format is not jpeg, png, gif or webp",
			Hard:    true,
		})
		return r
	}

	r.Format = domain.ImageFormat(format)
	r.Width = cfg.Width
	r.Height = cfg.Height

	if v.req.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > v.req.MaxPixels {
		r.Violations = append(r.Violations, tooManyPixels(cfg.Width, cfg.Height, v.req.MaxPixels))
		return r
	}

	if cfg.Width < v.req.MinWidth || cfg.Height < v.req.MinHeight {
		r.Violations = append(r.Violations, domain.Violation{
			Code: CodeBelowMinDimensions,
			Message: fmt.Sprintf("image is %dx%d, minimum is %dx%d",
				cfg.Width, cfg.Height, v.req.MinWidth, v.req.MinHeight),
			Hard: true,
		})
	}

	if cfg.Height > 0 && !v.recommendedRatio(float64(cfg.Width)/float64(cfg.Height)) {
		r.Violations = append(r.Violations, domain.Violation{
			Code:    CodeAspectRatio,
			Message: fmt.Sprintf("aspect ratio %dx%d may be cropped; use 1:1, 1.91:1 or 4:5", cfg.Width, cfg.Height),
		})
	}

	return r
}

func (v *Validator) recommendedRatio(ratio float64) bool {
	for _, rr := range recommendedRatios {
		if math.Abs(ratio-rr.ratio)/rr.ratio <= v.req.AspectTolerance {
			return true
		}
	}
	return false
}

func tooManyPixels(w, h int, limit int64) domain.Violation {
	return domain.Violation{
		Code:    CodeTooManyPixels,
		Message: fmt.Sprintf("image is %dx%d, more than %d pixels", w, h, limit),
		Hard:    true,
	}
}
