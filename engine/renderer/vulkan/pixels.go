package vulkan

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	vk "github.com/goki/vulkan"
	"golang.org/x/image/draw"
)

/**
 * LoadPixelsFromFile decodes an image file into the R8G8B8A8 layout the
 * upload path expects. Non-RGBA sources (paletted PNG, JPEG YCbCr) are
 * converted; the decode and conversion run on the caller's goroutine during
 * the upload phase, never during a draw.
 */
func LoadPixelsFromFile(path string) (TexturePixels, error) {
	f, err := os.Open(path)
	if err != nil {
		return TexturePixels{}, fmt.Errorf("opening texture '%s': %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return TexturePixels{}, fmt.Errorf("decoding texture '%s': %w", path, err)
	}

	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Copy(rgba, image.Point{}, src, bounds, draw.Src, nil)

	return TexturePixels{
		Data:   rgba.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Format: vk.FormatR8g8b8a8Unorm,
	}, nil
}
