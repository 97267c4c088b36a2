package shape

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LayerColor defines the fill and outline used for one class of features.
type LayerColor struct {
	Fill    color.NRGBA
	Outline color.NRGBA
}

// DefaultPalette returns distinct colors for duplicate groups.
func DefaultPalette() []LayerColor {
	return []LayerColor{
		{ // Blue
			Fill:    color.NRGBA{100, 149, 237, 180}, // Cornflower blue
			Outline: color.NRGBA{0, 0, 139, 255},     // Dark blue
		},
		{ // Red
			Fill:    color.NRGBA{255, 99, 71, 150}, // Tomato
			Outline: color.NRGBA{139, 0, 0, 255},   // Dark red
		},
		{ // Green
			Fill:    color.NRGBA{144, 238, 144, 150}, // Light green
			Outline: color.NRGBA{0, 100, 0, 255},     // Dark green
		},
		{ // Yellow
			Fill:    color.NRGBA{255, 255, 150, 150}, // Light yellow
			Outline: color.NRGBA{184, 134, 11, 255},  // Dark goldenrod
		},
		{ // Purple
			Fill:    color.NRGBA{216, 191, 216, 150}, // Thistle
			Outline: color.NRGBA{128, 0, 128, 255},   // Purple
		},
		{ // Teal
			Fill:    color.NRGBA{175, 238, 238, 150}, // Pale turquoise
			Outline: color.NRGBA{0, 128, 128, 255},   // Teal
		},
	}
}

// Greyscale colors for features outside any duplicate group.
var (
	BaseFill    = color.NRGBA{210, 210, 210, 160} // Light grey
	BaseOutline = color.NRGBA{60, 60, 60, 255}    // Dark grey
	RemovedTint = color.NRGBA{220, 20, 60, 110}   // Crimson wash over removed features
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// The canvas library expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// PreviewRenderer renders a feature collection as vector graphics, with
// duplicate groups colorized and removed features tinted.
type PreviewRenderer struct {
	Collection *Collection
	Groups     [][]int // Feature indices per duplicate group; colorized per group
	Removed    []int   // Feature indices drawn with a removal tint
	Scale      float64 // Canvas units per map unit; 0 fits the longer side to MaxDim
	MaxDim     float64 // Target size of the longer canvas side
	Padding    float64 // Padding in canvas units
	GridStep   float64 // Map units between grid lines; 0 picks a step from the extent, negative disables
	Simplify   float64 // Douglas-Peucker tolerance in map units; 0 disables
	Resolution canvas.Resolution
}

// NewPreviewRenderer creates a preview renderer with default settings.
func NewPreviewRenderer(c *Collection) *PreviewRenderer {
	return &PreviewRenderer{
		Collection: c,
		MaxDim:     1000,
		Padding:    20,
		Resolution: canvas.DPMM(1.0), // one pixel per canvas unit
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// layout computes the world bounds, the world-to-canvas scale and the
// resulting canvas dimensions.
func (p *PreviewRenderer) layout() (b orb.Bound, scale, width, height float64) {
	b = p.Collection.Bound()
	dx := b.Max[0] - b.Min[0]
	dy := b.Max[1] - b.Min[1]

	scale = p.Scale
	if scale <= 0 {
		extent := math.Max(dx, dy)
		if extent > 0 {
			scale = p.MaxDim / extent
		} else {
			scale = 1.0
		}
	}

	width = dx*scale + 2*p.Padding
	height = dy*scale + 2*p.Padding
	if width <= 0 {
		width = 2*p.Padding + 1
	}
	if height <= 0 {
		height = 2*p.Padding + 1
	}
	return b, scale, width, height
}

// RenderSVG writes the preview as an SVG to the provided writer. Unlike the
// PNG variant it carries no legend text, which would need a loaded font
// family.
func (p *PreviewRenderer) RenderSVG(w io.Writer) error {
	b, scale, width, height := p.layout()

	svgRenderer := svg.New(w, width, height, nil)
	p.renderToCanvas(svgRenderer, b, scale, width, height)
	return svgRenderer.Close()
}

// RenderPNG writes the preview as a PNG to the provided writer, with a
// legend naming each duplicate group.
func (p *PreviewRenderer) RenderPNG(w io.Writer) error {
	b, scale, width, height := p.layout()

	rast := rasterizer.New(width, height, p.Resolution, canvas.DefaultColorSpace)
	p.renderToCanvas(rast, b, scale, width, height)

	// Rasterizer embeds image.RGBA, so the legend can be drawn directly
	// onto the pixels before encoding.
	p.drawLegend(rast)
	return png.Encode(w, rast)
}

// renderToCanvas renders the collection to a canvas renderer (shared logic
// for SVG and PNG).
func (p *PreviewRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, scale, width, height float64) {
	// 1. White background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Helper to transform world points to canvas points
	toCanvas := func(pt orb.Point) (float64, float64) {
		cx := (pt[0]-b.Min[0])*scale + p.Padding
		cy := (pt[1]-b.Min[1])*scale + p.Padding
		return cx, cy
	}

	groupOf := make(map[int]int)
	for g, grp := range p.Groups {
		for _, idx := range grp {
			groupOf[idx] = g
		}
	}
	removed := make(map[int]bool, len(p.Removed))
	for _, idx := range p.Removed {
		removed[idx] = true
	}
	palette := DefaultPalette()

	// 2. Feature fills and strokes
	for i, f := range p.Collection.Features {
		if f.Geometry == nil {
			continue
		}
		lc := LayerColor{Fill: BaseFill, Outline: BaseOutline}
		if g, ok := groupOf[i]; ok {
			lc = palette[g%len(palette)]
		}

		geom := f.Geometry
		if p.Simplify > 0 {
			geom = simplify.DouglasPeucker(p.Simplify).Simplify(orb.Clone(geom))
		}
		p.renderGeometry(renderer, geom, lc, toCanvas)
	}

	// 3. Removal tint over features a dedupe pass would drop
	if len(removed) > 0 {
		tintStyle := canvas.DefaultStyle
		tintStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(RemovedTint)}
		tintStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		for i, f := range p.Collection.Features {
			if !removed[i] || f.Geometry == nil {
				continue
			}
			geom := f.Geometry
			if p.Simplify > 0 {
				geom = simplify.DouglasPeucker(p.Simplify).Simplify(orb.Clone(geom))
			}
			for _, path := range p.geometryPaths(geom, toCanvas) {
				renderer.RenderPath(path, tintStyle, canvas.Identity)
			}
		}
	}

	// 4. Grid lines
	step := p.GridStep
	if step == 0 {
		step = niceGridStep(math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]))
	}
	if step > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{4.0, 4.0}

		for x := math.Floor(b.Min[0]/step) * step; x <= b.Max[0]; x += step {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{x, b.Min[1]})
			x2, y2 := toCanvas(orb.Point{x, b.Max[1]})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(b.Min[1]/step) * step; y <= b.Max[1]; y += step {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(orb.Point{b.Min[0], y})
			x2, y2 := toCanvas(orb.Point{b.Max[0], y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}
}

// renderGeometry draws one geometry with the given colors.
func (p *PreviewRenderer) renderGeometry(renderer canvasRenderer, geom orb.Geometry, lc LayerColor, toCanvas func(orb.Point) (float64, float64)) {
	switch g := geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
		fillStyle := canvas.DefaultStyle
		fillStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(lc.Fill)}
		fillStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(lc.Outline)}
		fillStyle.StrokeWidth = 1.0

		for _, path := range p.geometryPaths(geom, toCanvas) {
			renderer.RenderPath(path, fillStyle, canvas.Identity)
		}

	case orb.LineString, orb.MultiLineString:
		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(lc.Outline)}
		lineStyle.StrokeWidth = 2.0

		for _, path := range p.geometryPaths(geom, toCanvas) {
			renderer.RenderPath(path, lineStyle, canvas.Identity)
		}

	case orb.Point:
		p.renderPoint(renderer, g, lc, toCanvas)

	case orb.MultiPoint:
		for _, pt := range g {
			p.renderPoint(renderer, pt, lc, toCanvas)
		}
	}
}

func (p *PreviewRenderer) renderPoint(renderer canvasRenderer, pt orb.Point, lc LayerColor, toCanvas func(orb.Point) (float64, float64)) {
	cx, cy := toCanvas(pt)

	ptStyle := canvas.DefaultStyle
	ptStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(lc.Outline)}
	ptStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	dot := canvas.Circle(3.0)
	dot = dot.Translate(cx, cy)
	renderer.RenderPath(dot, ptStyle, canvas.Identity)
}

// geometryPaths converts a geometry to canvas paths. Polygon holes become
// subpaths with opposite winding, which the default non-zero fill rule
// cuts out.
func (p *PreviewRenderer) geometryPaths(geom orb.Geometry, toCanvas func(orb.Point) (float64, float64)) []*canvas.Path {
	switch g := geom.(type) {
	case orb.Polygon:
		return []*canvas.Path{p.polygonPath(g, toCanvas)}
	case orb.MultiPolygon:
		paths := make([]*canvas.Path, 0, len(g))
		for _, poly := range g {
			paths = append(paths, p.polygonPath(poly, toCanvas))
		}
		return paths
	case orb.LineString:
		return []*canvas.Path{linePath(g, toCanvas)}
	case orb.MultiLineString:
		paths := make([]*canvas.Path, 0, len(g))
		for _, ls := range g {
			paths = append(paths, linePath(ls, toCanvas))
		}
		return paths
	default:
		return nil
	}
}

func (p *PreviewRenderer) polygonPath(poly orb.Polygon, toCanvas func(orb.Point) (float64, float64)) *canvas.Path {
	cp := &canvas.Path{}
	for _, ring := range poly {
		for i, pt := range ring {
			cx, cy := toCanvas(pt)
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()
	}
	return cp
}

func linePath(ls orb.LineString, toCanvas func(orb.Point) (float64, float64)) *canvas.Path {
	cp := &canvas.Path{}
	for i, pt := range ls {
		cx, cy := toCanvas(pt)
		if i == 0 {
			cp.MoveTo(cx, cy)
		} else {
			cp.LineTo(cx, cy)
		}
	}
	return cp
}

// niceGridStep picks a round grid spacing that yields a handful of lines
// across the given extent. Returns 0 for a degenerate extent.
func niceGridStep(extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	raw := extent / 5
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	switch {
	case raw/mag >= 5:
		return 5 * mag
	case raw/mag >= 2:
		return 2 * mag
	default:
		return mag
	}
}

// drawLegend adds a legend with group labels to the rasterized image.
func (p *PreviewRenderer) drawLegend(img draw.Image) {
	y := 15
	drawText(img, 10, y, fmt.Sprintf("%d feature(s)", p.Collection.Len()), color.RGBA{0, 0, 0, 255})
	y += 18

	palette := DefaultPalette()
	for g, grp := range p.Groups {
		lc := palette[g%len(palette)]
		swatch := nrgbaToRGBA(lc.Outline)

		// Color swatch (12x12 square)
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, swatch)
			}
		}

		label := fmt.Sprintf("group %d: %d feature(s)", g+1, len(grp))
		drawText(img, 28, y, label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
