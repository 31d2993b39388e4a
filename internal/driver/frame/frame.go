// Package frame decodes the raw sensor stream into a 16 bit pixel matrix.
//
// The library delivers pixels row-major, X fastest, two bytes per pixel,
// most significant byte first. The raw buffer handed to the library must
// be at least RawSize(width, height) bytes long.
package frame

import (
	"encoding/binary"
	"image"
)

// Margin is the number of extra bytes the library may write past the frame
const Margin = 512

type errString string

// Error implements error
func (err errString) Error() string {
	return string(err)
}

const (
	ErrShortBuffer     errString = "raw buffer shorter than frame geometry"
	ErrInvalidGeometry errString = "invalid frame geometry"
)

// RawSize returns the buffer size required for a frame of the given geometry
func RawSize(width, height int) int {
	return width*height*2 + Margin
}

// Matrix of 16 bit pixels, stored row-major
type Matrix struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewMatrix allocates a zeroed matrix
func NewMatrix(width, height int) *Matrix {
	return &Matrix{
		Width:  width,
		Height: height,
		Pix:    make([]uint16, width*height),
	}
}

// At returns the pixel at column x, row y
func (m *Matrix) At(x, y int) uint16 {
	return m.Pix[y*m.Width+x]
}

// Row returns the pixels of row y, sharing storage with the matrix
func (m *Matrix) Row(y int) []uint16 {
	return m.Pix[y*m.Width : (y+1)*m.Width]
}

// Clone returns a deep copy of the matrix
func (m *Matrix) Clone() *Matrix {
	pix := make([]uint16, len(m.Pix))
	copy(pix, m.Pix)
	return &Matrix{Width: m.Width, Height: m.Height, Pix: pix}
}

// ImageArray returns the pixels indexed as [x][y]
func (m *Matrix) ImageArray() [][]int32 {
	cols := make([][]int32, m.Width)
	backing := make([]int32, m.Width*m.Height)
	for x := 0; x < m.Width; x++ {
		col := backing[x*m.Height : (x+1)*m.Height]
		for y := 0; y < m.Height; y++ {
			col[y] = int32(m.Pix[y*m.Width+x])
		}
		cols[x] = col
	}
	return cols
}

// Gray16 converts the matrix to an image.Gray16
func (m *Matrix) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	Encode(m, img.Pix)
	return img
}

// Decode the raw buffer into dst, reusing its storage when the geometry
// matches. Bytes past width*height*2 are ignored.
func Decode(raw []byte, width, height int, dst *Matrix) (*Matrix, error) {
	if width < 0 || height < 0 {
		return nil, ErrInvalidGeometry
	}
	pixels := width * height
	if len(raw) < pixels*2 {
		return nil, ErrShortBuffer
	}
	if dst == nil || dst.Width != width || dst.Height != height || len(dst.Pix) != pixels {
		dst = NewMatrix(width, height)
	}
	pix := dst.Pix
	for i := range pix {
		pix[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return dst, nil
}

// Encode writes the matrix in the raw sensor layout. dst is reused when
// big enough.
func Encode(m *Matrix, dst []byte) []byte {
	size := len(m.Pix) * 2
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	for i, v := range m.Pix {
		binary.BigEndian.PutUint16(dst[2*i:], v)
	}
	return dst
}
