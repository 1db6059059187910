package extractor

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// dctSize is the side of the grayscale thumbnail the DCT runs on.
const dctSize = 32

var (
	cosTable    = buildCosTable(dctSize)
	zigzagOrder = buildZigzag(dctSize)
)

// Classical computes a low-frequency DCT descriptor of the grayscale image.
// It is a pure function of the decoded pixels and needs no model.
type Classical struct {
	dim int
}

// NewClassical creates a classical extractor producing dim-length descriptors.
func NewClassical(dim int) (*Classical, error) {
	if dim <= 0 || dim >= dctSize*dctSize {
		return nil, fmt.Errorf("classical extractor dimension must be within [1,%d], got %d", dctSize*dctSize-1, dim)
	}
	return &Classical{dim: dim}, nil
}

// Dim returns the descriptor length.
func (c *Classical) Dim() int {
	return c.dim
}

// Model returns the model name stored next to descriptors.
func (c *Classical) Model() string {
	return fmt.Sprintf("dct-%d", c.dim)
}

// Extract decodes the image and computes its descriptor.
func (c *Classical) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := Decode(imageData)
	if err != nil {
		return nil, err
	}

	return c.describe(img)
}

func (c *Classical) describe(img image.Image) ([]float32, error) {
	gray := toGrayscale(resizeImage(img, dctSize, dctSize))
	dct := computeDCT(gray)

	// Skip the DC term (index 0 of the zig-zag walk): it only carries brightness.
	coeffs := make([]float64, c.dim)
	for i := range c.dim {
		p := zigzagOrder[i+1]
		coeffs[i] = dct[p[0]][p[1]]
	}

	var mean float64
	for _, v := range coeffs {
		mean += v
	}
	mean /= float64(len(coeffs))

	var norm float64
	for i := range coeffs {
		coeffs[i] -= mean
		norm += coeffs[i] * coeffs[i]
	}
	norm = math.Sqrt(norm)

	// Flat images leave only rounding noise in the AC terms.
	if norm <= 1e-9*math.Abs(dct[0][0])+1e-12 {
		return nil, fmt.Errorf("%w: image has no texture to describe", ErrInvalidImage)
	}

	out := make([]float32, c.dim)
	for i, v := range coeffs {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	return gray
}

// computeDCT computes a separable 2D DCT-II of a square grayscale block.
func computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)

	rows := make([][]float64, size)
	for x := range size {
		rows[x] = make([]float64, size)
		for v := range size {
			var sum float64
			for y := range size {
				sum += gray[x][y] * cosTable[v][y]
			}
			rows[x][v] = sum
		}
	}

	dct := make([][]float64, size)
	for u := range size {
		dct[u] = make([]float64, size)
		for v := range size {
			var sum float64
			for x := range size {
				sum += rows[x][v] * cosTable[u][x]
			}
			dct[u][v] = sum
		}
	}

	return dct
}

func buildCosTable(size int) [][]float64 {
	table := make([][]float64, size)
	for i := range table {
		table[i] = make([]float64, size)
		for j := range size {
			table[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}
	return table
}

// buildZigzag lists (u, v) positions from low to high frequency.
func buildZigzag(size int) [][2]int {
	order := make([][2]int, 0, size*size)
	for d := 0; d < 2*size-1; d++ {
		if d%2 == 0 {
			for u := min(d, size-1); u >= 0 && d-u < size; u-- {
				order = append(order, [2]int{u, d - u})
			}
		} else {
			for v := min(d, size-1); v >= 0 && d-v < size; v-- {
				order = append(order, [2]int{d - v, v})
			}
		}
	}
	return order
}
