// Package avatar normalizes uploaded profile pictures into square PNGs.
package avatar

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	Size     = 256
	MaxBytes = 5 * 1024 * 1024
)

var (
	ErrTooLarge    = errors.New("avatar: file too large (max 5MB)")
	ErrNotAnImage  = errors.New("avatar: not a decodable image")
	ErrEmptyUpload = errors.New("avatar: empty upload")
)

// Result describes a normalized avatar.
type Result struct {
	PNG    []byte
	Width  int
	Height int
}

// Normalize decodes r (png, jpeg or gif), honours EXIF orientation, crops to a centered
// square and scales to Size x Size.
func Normalize(r io.Reader) (*Result, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("avatar: read upload: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyUpload
	}
	if len(raw) > MaxBytes {
		return nil, ErrTooLarge
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	out := imaging.Fill(img, Size, Size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("avatar: encode: %w", err)
	}
	b := out.Bounds()
	return &Result{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Save writes the normalized PNG to baseDir/avatars/<name>.png and returns the path
// relative to baseDir.
func Save(baseDir, name string, res *Result) (string, error) {
	rel := filepath.Join("avatars", filepath.Base(name)+".png")
	full := filepath.Join(baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("avatar: mkdir: %w", err)
	}
	if err := os.WriteFile(full, res.PNG, 0o644); err != nil {
		return "", fmt.Errorf("avatar: write: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Bounds decodes only the header of a stored avatar.
func Bounds(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, err
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}
