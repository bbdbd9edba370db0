package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/geometry"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// Sidecar suffixes of the detector files written next to a screenshot.
const (
	ShapesSuffix = ".shapes.json"
	TextSuffix   = ".text.json"
)

// ElementKind is what a synthetic element looks like on screen.
type ElementKind int

const (
	ElementIcon ElementKind = iota
	ElementLabel
	ElementButton
	ElementPanel
)

// Element is one drawn widget.
type Element struct {
	Name  string
	Kind  ElementKind
	Box   geometry.Box
	Text  string
	Color color.Color
}

// Scene is a synthetic screenshot plus what the two detectors would report
// for it.
type Scene struct {
	Width, Height int
	Elements      []Element
	Shapes        []detection.Detection
	Texts         []detection.Detection

	// Expected outcome with default engine settings.
	ExpectedFused    int
	ExpectedGroupIDs []string
}

// DefaultScene describes an 800x600 window: a toolbar of five icons with a
// slightly taller duplicate of the first, a button with a caption, a menu
// column, a panel holding three captions and a wide banner.
func DefaultScene() Scene {
	s := Scene{Width: 800, Height: 600}
	palette := []color.Color{
		color.RGBA{R: 220, G: 60, B: 60, A: 255},
		color.RGBA{R: 60, G: 160, B: 60, A: 255},
		color.RGBA{R: 60, G: 90, B: 220, A: 255},
		color.RGBA{R: 230, G: 170, B: 30, A: 255},
		color.RGBA{R: 140, G: 60, B: 190, A: 255},
	}
	for i := range 5 {
		x := 20 + i*44
		s.add(Element{Name: fmt.Sprintf("icon%d", i), Kind: ElementIcon, Box: geometry.NewBox(x, 20, x+32, 52), Color: palette[i]})
	}
	s.addShape(geometry.NewBox(20, 20, 52, 53))

	s.add(Element{Name: "button", Kind: ElementButton, Box: geometry.NewBox(600, 20, 720, 52), Color: color.RGBA{R: 200, G: 200, B: 210, A: 255}})
	s.add(Element{Name: "button-caption", Kind: ElementLabel, Box: geometry.NewBox(620, 26, 700, 46), Text: "Submit"})

	for i, label := range []string{"File", "Edit", "View", "Help"} {
		y := 100 + i*30
		s.add(Element{Name: "menu-" + label, Kind: ElementLabel, Box: geometry.NewBox(20, y, 120, y+20), Text: label})
	}

	s.add(Element{Name: "panel", Kind: ElementPanel, Box: geometry.NewBox(300, 200, 500, 300), Color: color.RGBA{R: 235, G: 235, B: 240, A: 255}})
	for i, label := range []string{"Name", "Size", "Date"} {
		y := 210 + i*30
		s.add(Element{Name: "panel-" + label, Kind: ElementLabel, Box: geometry.NewBox(310, y, 390, y+20), Text: label})
	}

	s.add(Element{Name: "banner", Kind: ElementLabel, Box: geometry.NewBox(20, 500, 760, 530), Text: "Welcome to the synthetic test window"})

	// Icons and the button survive, the duplicate and the crowded panel do
	// not, and the button caption is absorbed by the button.
	s.ExpectedFused = 14
	s.ExpectedGroupIDs = []string{"H0", "H1", "V0", "V1", "HL0"}
	return s
}

func (s *Scene) add(e Element) {
	s.Elements = append(s.Elements, e)
	if e.Kind == ElementLabel {
		s.Texts = append(s.Texts, detection.Detection{
			Box: e.Box, Source: detection.SourceText, Type: detection.TypeText, Confidence: 0.95, ID: len(s.Texts),
		})
		return
	}
	s.addShape(e.Box)
}

func (s *Scene) addShape(b geometry.Box) {
	s.Shapes = append(s.Shapes, detection.Detection{
		Box: b, Source: detection.SourceShape, Type: detection.TypeIcon, Confidence: 0.9, ID: len(s.Shapes),
	})
}

// Shifted returns a copy of s with every element and detection moved by
// (dx, dy) on a canvas grown to match. Fusion and grouping outcomes do not
// change.
func (s Scene) Shifted(dx, dy int) Scene {
	move := func(b geometry.Box) geometry.Box {
		return geometry.NewBox(b.X1+dx, b.Y1+dy, b.X2+dx, b.Y2+dy)
	}
	out := s
	out.Width += dx
	out.Height += dy
	out.Elements = make([]Element, len(s.Elements))
	for i, e := range s.Elements {
		e.Box = move(e.Box)
		out.Elements[i] = e
	}
	out.Shapes = make([]detection.Detection, len(s.Shapes))
	for i, d := range s.Shapes {
		d.Box = move(d.Box)
		out.Shapes[i] = d
	}
	out.Texts = make([]detection.Detection, len(s.Texts))
	for i, d := range s.Texts {
		d.Box = move(d.Box)
		out.Texts[i] = d
	}
	out.ExpectedGroupIDs = append([]string(nil), s.ExpectedGroupIDs...)
	return out
}

// Render draws the scene.
func (s Scene) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	utils.FillRect(img, img.Bounds(), color.White)
	for _, e := range s.Elements {
		switch e.Kind {
		case ElementLabel:
			drawText(img, e.Box, e.Text)
		default:
			utils.FillRect(img, e.Box.Rect(), e.Color)
			utils.DrawRect(img, e.Box.Rect(), color.Gray{Y: 90}, 1)
		}
	}
	return img
}

func drawText(img draw.Image, b geometry.Box, text string) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(b.X1+max(0, (b.Width()-w)/2), b.Y1+(b.Height()+ascent)/2),
	}
	d.DrawString(text)
}

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// WriteScene writes <stem>.png and its two detector sidecars into dir and
// returns the image path.
func WriteScene(dir, stem string, s Scene) (string, error) {
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	imgPath := filepath.Join(dir, stem+".png")
	if err := utils.SavePNG(imgPath, s.Render()); err != nil {
		return "", err
	}
	if err := detection.WriteFile(filepath.Join(dir, stem+ShapesSuffix), s.Shapes); err != nil {
		return "", err
	}
	if err := detection.WriteFile(filepath.Join(dir, stem+TextSuffix), s.Texts); err != nil {
		return "", err
	}
	return imgPath, nil
}
