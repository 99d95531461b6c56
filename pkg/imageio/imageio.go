// Package imageio loads and saves the grey-level images that make up a
// decomposition stack, and reads the plain-text file lists that enumerate them.
//
// Supported inputs are PNG, JPEG and GIF (standard library), TIFF
// (golang.org/x/image/tiff) and DICOM (github.com/suyashkumar/dicom, first
// frame of the pixel data element). Colour images are reduced to luminance.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/tiff"

	"lowrankdecomp/internal/models"
)

// ErrUnsupportedFormat is returned for file extensions no codec handles.
var ErrUnsupportedFormat = errors.New("imageio: unsupported image format")

// LoadImage reads the image at path into a pixel array named after the file.
func LoadImage(path string) (models.PixelArray, error) {
	var (
		img image.Image
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dcm", ".dicom":
		img, err = decodeDICOM(path)
	default:
		img, err = decodeFile(path)
	}
	if err != nil {
		return models.PixelArray{}, fmt.Errorf("load %s: %w", path, err)
	}

	arr := FromImage(img)
	arr.Name = BaseName(path)
	return arr, nil
}

// BaseName strips the directory and every extension from path
// ("dir/case01.nii.gz" -> "case01").
func BaseName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// tiff registers itself with image.Decode through its init function
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func decodeDICOM(path string) (image.Image, error) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	pixelData, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info := dicom.MustGetPixelDataInfo(pixelData.Value)
	if len(info.Frames) == 0 {
		return nil, errors.New("pixel data has no frames")
	}
	return info.Frames[0].GetImage()
}

// FromImage converts any image into a row-major grey pixel array. 16-bit
// sources keep their full range, everything else is mapped to 0..255.
func FromImage(img image.Image) models.PixelArray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	depth := models.Depth8
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		depth = models.Depth16
	}

	arr := models.NewPixelArray("", width, height, depth)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			if depth == models.Depth16 {
				arr.Data[y*width+x] = float64(color.Gray16Model.Convert(c).(color.Gray16).Y)
			} else {
				arr.Data[y*width+x] = float64(color.GrayModel.Convert(c).(color.Gray).Y)
			}
		}
	}
	return arr
}

// ToImage converts a pixel array back into an image of its own bit depth,
// saturating samples outside the representable range.
func ToImage(arr models.PixelArray) image.Image {
	rect := image.Rect(0, 0, arr.Width, arr.Height)
	limit := arr.Depth.MaxValue()

	if arr.Depth == models.Depth16 {
		img := image.NewGray16(rect)
		for i, v := range arr.Data {
			img.Pix[2*i], img.Pix[2*i+1] = split16(uint16(clamp(v, limit)))
		}
		return img
	}
	img := image.NewGray(rect)
	for i, v := range arr.Data {
		img.Pix[i] = uint8(clamp(v, limit))
	}
	return img
}

func split16(v uint16) (uint8, uint8) {
	return uint8(v >> 8), uint8(v)
}

func clamp(v, limit float64) float64 {
	switch {
	case !(v > 0):
		return 0
	case v > limit:
		return limit
	default:
		return v + 0.5
	}
}

// SaveImage encodes img to path, choosing the codec from the extension.
// Parent directories are created as needed.
func SaveImage(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(file, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image %s: %w", path, err)
	}
	return file.Close()
}

// SavePixelArray writes arr at its own bit depth.
func SavePixelArray(arr models.PixelArray, path string) error {
	return SaveImage(ToImage(arr), path)
}
