package diag

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/TimoKropp/openchessboard/internal/board"
)

const (
	squareSize = 48
	margin     = 20
)

var (
	lightSquare   = color.RGBA{R: 0xee, G: 0xee, B: 0xd2, A: 0xff}
	darkSquare    = color.RGBA{R: 0x76, G: 0x96, B: 0x56, A: 0xff}
	background    = color.RGBA{R: 0x30, G: 0x2e, B: 0x2b, A: 0xff}
	coordColor    = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	litOverlay    = color.RGBA{R: 0xf6, G: 0xd3, B: 0x2d, A: 0x90}
	mismatchFrame = color.RGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff}
)

// markerSVG is the occupancy marker drawn on every square whose sensor reads a piece.
const markerSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<circle cx="50" cy="50" r="34" style="fill:#202020;stroke:#f0f0f0;stroke-width:6"/>
</svg>`

var (
	markerCache   = map[int]image.Image{}
	markerCacheMu sync.RWMutex
)

// RenderInput is what the snapshot image shows.
type RenderInput struct {
	Snapshot    board.Snapshot
	Orientation board.Orientation
	Lit         []board.Square
	Mismatches  []board.Square
}

// RenderSnapshotPNG draws the sensor occupancy in algebraic layout, rank 8 on top.
func RenderSnapshotPNG(in RenderInput) ([]byte, error) {
	if in.Orientation.FromSquare == nil {
		in.Orientation = board.PlugTop
	}
	size := board.Size*squareSize + 2*margin
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, imagedraw.Src)
	origin := image.Point{X: margin, Y: margin}

	marker, err := renderMarker(squareSize)
	if err != nil {
		return nil, err
	}
	for rank := 0; rank < board.Size; rank++ {
		for file := 0; file < board.Size; file++ {
			sq := board.Square{File: file, Rank: rank}
			rect := squareRect(sq, origin)
			clr := lightSquare
			if (file+rank)%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Src)
			if in.Snapshot.Occupied(in.Orientation.FromSquare(sq)) {
				imagedraw.Draw(img, rect, marker, image.Point{}, imagedraw.Over)
			}
		}
	}
	for _, sq := range in.Lit {
		imagedraw.Draw(img, squareRect(sq, origin), image.NewUniform(litOverlay), image.Point{}, imagedraw.Over)
	}
	for _, sq := range in.Mismatches {
		drawFrame(img, squareRect(sq, origin), 3, mismatchFrame)
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func renderMarker(size int) (image.Image, error) {
	markerCacheMu.RLock()
	if img, ok := markerCache[size]; ok {
		markerCacheMu.RUnlock()
		return img, nil
	}
	markerCacheMu.RUnlock()

	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(markerSVG)))
	if err != nil {
		return nil, fmt.Errorf("parse marker svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	markerCacheMu.Lock()
	markerCache[size] = img
	markerCacheMu.Unlock()
	return img, nil
}

func squareRect(sq board.Square, origin image.Point) image.Rectangle {
	x := origin.X + sq.File*squareSize
	y := origin.Y + (board.Size-1-sq.Rank)*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawFrame(img *image.RGBA, r image.Rectangle, w int, clr color.Color) {
	u := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), u, image.Point{}, imagedraw.Src)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), u, image.Point{}, imagedraw.Src)
	imagedraw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), u, image.Point{}, imagedraw.Src)
	imagedraw.Draw(img, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, imagedraw.Src)
}

func drawCoordinates(img *image.RGBA, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(coordColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < board.Size; i++ {
		rank := string(rune('8' - i))
		y := origin.Y + i*squareSize + squareSize/2 + ascent/2
		drawCentered(drawer, rank, origin.X-margin/2, y)

		file := string(rune('a' + i))
		x := origin.X + i*squareSize + squareSize/2
		drawCentered(drawer, file, x, origin.Y+board.Size*squareSize+ascent+2)
	}
}

func drawCentered(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Ceil()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}
