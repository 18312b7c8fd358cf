package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"drowsyguard/internal/model"
)

var (
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Red   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

const (
	BorderWidth = 10
	dotRadius   = 1
)

type Overlay struct {
	EyePoints   []model.Point
	EAR         float64
	HasEAR      bool
	Status      model.Status
	AlertActive bool
}

func StatusColor(alert bool) color.RGBA {
	if alert {
		return Red
	}
	return Green
}

func Render(src image.Image, o Overlay) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	for _, p := range o.EyePoints {
		drawDot(dst, int(p.X*float64(w)), int(p.Y*float64(h)), Green)
	}
	if o.HasEAR {
		drawText(dst, 10, 30, fmt.Sprintf("EAR: %.2f", o.EAR), Green)
	}
	drawText(dst, 10, 60, o.Status.Label(), StatusColor(o.AlertActive))
	if o.AlertActive {
		drawBorder(dst, BorderWidth, Red)
	}
	return dst
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawDot(img *image.RGBA, cx, cy int, c color.RGBA) {
	for y := cy - dotRadius; y <= cy+dotRadius; y++ {
		for x := cx - dotRadius; x <= cx+dotRadius; x++ {
			if image.Pt(x, y).In(img.Rect) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawBorder(img *image.RGBA, width int, c color.RGBA) {
	r := img.Rect
	u := image.NewUniform(c)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
}
