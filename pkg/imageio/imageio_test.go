package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lowrankdecomp/internal/models"
)

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(10*y + x)})
		}
	}
	return img
}

func TestSaveAndLoadPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "case01.png")

	require.NoError(t, SaveImage(gradient(4, 3), path))

	arr, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "case01", arr.Name)
	assert.Equal(t, 4, arr.Width)
	assert.Equal(t, 3, arr.Height)
	assert.Equal(t, models.Depth8, arr.Depth)
	assert.Equal(t, 23.0, arr.At(3, 2))
}

func TestSaveAndLoadTIFF16(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slice.tiff")

	src := image.NewGray16(image.Rect(0, 0, 2, 2))
	src.SetGray16(1, 1, color.Gray16{Y: 40000})
	require.NoError(t, SaveImage(src, path))

	arr, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, models.Depth16, arr.Depth)
	assert.Equal(t, 40000.0, arr.At(1, 1))
	assert.Equal(t, 0.0, arr.At(0, 0))
}

func TestLoadColourImageUsesLuminance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rgb.png")
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	require.NoError(t, SaveImage(img, path))

	arr, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 255.0, arr.Data[0])
}

func TestSaveUnsupportedFormat(t *testing.T) {
	err := SaveImage(gradient(2, 2), filepath.Join(t.TempDir(), "out.bmp"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadInvalidDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dcm")
	require.NoError(t, os.WriteFile(path, []byte("not a dicom file"), 0644))

	_, err := LoadImage(path)
	assert.Error(t, err)
}

func TestToImageSaturates(t *testing.T) {
	arr := models.NewPixelArray("x", 3, 1, models.Depth8)
	arr.Data = []float64{-4, 127.6, 900}

	img := ToImage(arr).(*image.Gray)
	assert.Equal(t, []uint8{0, 128, 255}, img.Pix)
}

func TestFileListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "fileList.txt")
	abs := filepath.Join(dir, "abs.png")

	require.NoError(t, WriteFileList(list, []string{"a.png", abs}))
	content, err := os.ReadFile(list)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(list, append([]byte("# comment\n\n"), content...), 0644))

	paths, err := ReadFileList(list)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), abs}, paths)
}

func TestReadFileListMissing(t *testing.T) {
	_, err := ReadFileList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	arr := FromImage(gradient(4, 4))
	arr.Name = "g"

	out := Resample(arr, 8, 2)
	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 2, out.Height)
	assert.Equal(t, "g", out.Name)
	assert.Len(t, out.Data, 16)

	same := Resample(arr, 4, 4)
	assert.Equal(t, arr.Data, same.Data)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "case01", BaseName("/data/case01.nii.gz"))
	assert.Equal(t, "img", BaseName("img"))
	assert.Equal(t, ".hidden", BaseName(".hidden"))
}
