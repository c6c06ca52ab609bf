// Command mkbootlogo rasterizes the boot logo and encodes it as a Go source
// file containing an indexed 8bpp image. The generated file is compiled into
// the console package that draws the logo onto a linear framebuffer; the
// loader binary never links against this tool or its dependencies.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"image/color"
	"os"

	"github.com/fogleman/gg"
)

// maxColors is the palette limit of the indexed image format.
const maxColors = 16

var (
	outFile = flag.String("out", "bootlogo.go", "path of the generated Go file")
	pkgName = flag.String("pkg", "logo", "package name for the generated file")
	varName = flag.String("var", "bootLogo", "variable name for the generated image")
	size    = flag.Int("size", 64, "logo width and height in pixels")
	align   = flag.String("align", "center", "logo alignment: left, center or right")
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkbootlogo] error: %s\n", err.Error())
	os.Exit(1)
}

// render draws the logo: a filled hexagon with an inset chevron, flat
// colors only so the result quantizes losslessly.
func render(size int) *gg.Context {
	dc := gg.NewContext(size, size)

	s := float64(size)
	cx, cy := s/2, s/2

	// Transparent background: palette index 0.
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	dc.DrawRegularPolygon(6, cx, cy, s*0.48, 0)
	dc.SetRGB255(0x26, 0x32, 0x38)
	dc.Fill()

	dc.DrawRegularPolygon(6, cx, cy, s*0.40, 0)
	dc.SetRGB255(0x45, 0xa1, 0xf8)
	dc.Fill()

	dc.MoveTo(cx-s*0.18, cy-s*0.14)
	dc.LineTo(cx+s*0.02, cy)
	dc.LineTo(cx-s*0.18, cy+s*0.14)
	dc.ClosePath()
	dc.SetRGB255(0xff, 0xff, 0xff)
	dc.Fill()

	dc.DrawRectangle(cx+0.08*s, cy+s*0.10, s*0.22, s*0.05)
	dc.SetRGB255(0xff, 0xff, 0xff)
	dc.Fill()

	return dc
}

// buildPalette collects the distinct colors of the rendered logo. Index 0
// is reserved for the transparent color.
func buildPalette(dc *gg.Context) ([]color.RGBA, []uint8, error) {
	var (
		palette []color.RGBA
		indexOf = make(map[color.RGBA]int)
	)

	palette = append(palette, color.RGBA{})
	indexOf[palette[0]] = 0

	img := dc.Image()
	bounds := img.Bounds()
	pixels := make([]uint8, 0, bounds.Dx()*bounds.Dy())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0 {
				pixels = append(pixels, 0)
				continue
			}

			c := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
			idx, exists := indexOf[c]
			if !exists {
				idx = len(palette)
				indexOf[c] = idx
				palette = append(palette, c)
			}
			pixels = append(pixels, uint8(idx))
		}
	}

	if got := len(palette); got > maxColors {
		return nil, nil, fmt.Errorf("logo should not contain more than %d colors; got %d", maxColors, got)
	}

	return palette, pixels, nil
}

func alignConst(align string) (string, error) {
	switch align {
	case "left":
		return "AlignLeft", nil
	case "center":
		return "AlignCenter", nil
	case "right":
		return "AlignRight", nil
	default:
		return "", fmt.Errorf("unsupported alignment %q", align)
	}
}

func genLogoFile(palette []color.RGBA, pixels []uint8, width, height int, alignName string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "// Code generated by mkbootlogo. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", *pkgName)
	fmt.Fprintf(&buf, "import \"image/color\"\n\n")
	fmt.Fprintf(&buf, "var %s = &Image{\n", *varName)
	fmt.Fprintf(&buf, "Width: %d,\nHeight: %d,\nAlign: %s,\nTransparentIndex: 0,\n", width, height, alignName)

	fmt.Fprintf(&buf, "Palette: []color.RGBA{\n")
	for _, c := range palette {
		fmt.Fprintf(&buf, "{R: 0x%02x, G: 0x%02x, B: 0x%02x, A: 0x%02x},\n", c.R, c.G, c.B, c.A)
	}
	fmt.Fprintf(&buf, "},\n")

	fmt.Fprintf(&buf, "Data: []uint8{\n")
	for i, p := range pixels {
		if i > 0 && i%width == 0 {
			fmt.Fprintf(&buf, "\n")
		}
		fmt.Fprintf(&buf, "%d, ", p)
	}
	fmt.Fprintf(&buf, "},\n}\n")

	return format.Source(buf.Bytes())
}

func main() {
	flag.Parse()

	alignName, err := alignConst(*align)
	if err != nil {
		exit(err)
	}

	dc := render(*size)
	palette, pixels, err := buildPalette(dc)
	if err != nil {
		exit(err)
	}

	src, err := genLogoFile(palette, pixels, *size, *size, alignName)
	if err != nil {
		exit(err)
	}

	if err := os.WriteFile(*outFile, src, 0644); err != nil {
		exit(err)
	}
}
