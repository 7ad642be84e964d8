package channel

import (
	"fmt"
	"image"
)

// Frame is an opaque pixel buffer produced by a channel.
// Pix holds interleaved RGB bytes, row-major, Width*Height*Channels long.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewFrame allocates a zeroed RGB frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: 3,
		Pix:      make([]byte, width*height*3),
	}
}

// Validate checks that the buffer length matches the declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 || f.Channels != 3 {
		return fmt.Errorf("invalid frame geometry %dx%dx%d", f.Width, f.Height, f.Channels)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(f.Pix), f.Width*f.Height*f.Channels)
	}
	return nil
}

// ToImage converts the frame into an image.RGBA for encoding or scaling.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Width * 3
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst+0] = f.Pix[src+0]
			img.Pix[dst+1] = f.Pix[src+1]
			img.Pix[dst+2] = f.Pix[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}

// FromImage builds a frame from an RGBA image (used after downscaling).
func FromImage(img *image.RGBA) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		src := y * img.Stride
		dst := y * f.Width * 3
		for x := 0; x < f.Width; x++ {
			f.Pix[dst+0] = img.Pix[src+0]
			f.Pix[dst+1] = img.Pix[src+1]
			f.Pix[dst+2] = img.Pix[src+2]
			src += 4
			dst += 3
		}
	}
	return f
}
