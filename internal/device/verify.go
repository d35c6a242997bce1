package device

import (
	"fmt"
	"image"
	"os"

	// Decoders for VerifyImage.
	_ "image/jpeg"
	_ "image/png"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// VerifyImage checks that path is a readable, fully decodable image with
// non-empty bounds. Failures match errors.ErrCorruptImage.
func VerifyImage(path string) error {
	img, err := LoadImage(path)
	if err != nil {
		return err
	}
	if img.Bounds().Empty() {
		return fmt.Errorf("%w: %s has empty bounds", errors.ErrCorruptImage, path)
	}
	return nil
}

// LoadImage opens and decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptImage, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrCorruptImage, path, err)
	}
	return img, nil
}
