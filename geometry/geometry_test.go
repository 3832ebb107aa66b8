package geometry

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/TIANLI0/CardKit/config"
	"github.com/disintegration/imaging"
)

func rect(x0, y0, x1, y1 float64) Quad {
	return Quad{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func TestOrderedStartsTopLeftClockwise(t *testing.T) {
	q := Quad{{110, 160}, {10, 20}, {10, 160}, {110, 20}}
	o := q.Ordered()
	want := Quad{{10, 20}, {110, 20}, {110, 160}, {10, 160}}
	if o != want {
		t.Fatalf("unexpected order: %v", o)
	}
}

func TestOrderedLandscapeBecomesPortrait(t *testing.T) {
	q := rect(0, 0, 200, 100)
	o := q.Ordered()
	if first, second := o[0].Dist(o[1]), o[1].Dist(o[2]); first > second {
		t.Fatalf("first edge should be the short edge: %v", o)
	}
}

func TestIsConvex(t *testing.T) {
	if !rect(0, 0, 10, 20).IsConvex() {
		t.Fatal("rectangle should be convex")
	}
	bowtie := Quad{{0, 0}, {10, 10}, {10, 0}, {0, 10}}
	if bowtie.IsConvex() {
		t.Fatal("self-intersecting quad should not be convex")
	}
	dart := Quad{{0, 0}, {10, 5}, {20, 0}, {10, 20}}
	if dart.IsConvex() {
		t.Fatal("concave quad should not be convex")
	}
}

func TestValidateRejectsDegenerate(t *testing.T) {
	cases := map[string]Quad{
		"coincident": {{0, 0}, {0, 0}, {10, 10}, {0, 10}},
		"collinear":  {{0, 0}, {5, 0}, {10, 0}, {0, 10}},
		"tiny":       rect(0, 0, 2, 3),
	}
	for name, q := range cases {
		if err := q.Validate(); !errors.Is(err, ErrDegenerateRegion) {
			t.Fatalf("%s: expected ErrDegenerateRegion, got %v", name, err)
		}
	}
	if err := rect(0, 0, 63, 88).Validate(); err != nil {
		t.Fatalf("valid quad rejected: %v", err)
	}
}

func TestAspectRatio(t *testing.T) {
	got := rect(0, 0, 63, 88).AspectRatio()
	if math.Abs(got-63.0/88.0) > 1e-9 {
		t.Fatalf("unexpected aspect ratio %f", got)
	}
	if got := rect(0, 0, 88, 63).AspectRatio(); math.Abs(got-63.0/88.0) > 1e-9 {
		t.Fatalf("aspect ratio should be orientation independent, got %f", got)
	}
}

func TestSolveHomographyMapsCorners(t *testing.T) {
	src := [4]Point{{0, 0}, {100, 0}, {100, 140}, {0, 140}}
	dst := [4]Point{{12, 7}, {108, 15}, {101, 160}, {5, 150}}
	h, err := SolveHomography(src, dst)
	if err != nil {
		t.Fatalf("SolveHomography returned error: %v", err)
	}
	for i := range src {
		p := h.Apply(src[i])
		if p.Dist(dst[i]) > 1e-6 {
			t.Fatalf("corner %d mapped to %v, want %v", i, p, dst[i])
		}
	}
}

func TestSolveHomographyDegenerate(t *testing.T) {
	src := [4]Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	dst := [4]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	if _, err := SolveHomography(src, dst); !errors.Is(err, ErrDegenerateRegion) {
		t.Fatalf("expected ErrDegenerateRegion, got %v", err)
	}
}

func twoToneCard() *image.NRGBA {
	img := imaging.New(200, 300, color.NRGBA{60, 60, 60, 255})
	for y := 20; y < 160; y++ {
		for x := 10; x < 110; x++ {
			c := color.NRGBA{240, 240, 240, 255}
			if y >= 90 {
				c = color.NRGBA{20, 20, 20, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRectifyAxisAligned(t *testing.T) {
	r := NewRectifier(&config.RectifierConfig{Width: 50, Height: 70})
	out, err := r.Rectify(twoToneCard(), rect(10, 20, 110, 160))
	if err != nil {
		t.Fatalf("Rectify returned error: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 50 || b.Dy() != 70 {
		t.Fatalf("unexpected output size %v", b)
	}
	if c := out.NRGBAAt(25, 10); c.R < 200 {
		t.Fatalf("expected bright top, got %v", c)
	}
	if c := out.NRGBAAt(25, 60); c.R > 60 {
		t.Fatalf("expected dark bottom, got %v", c)
	}
}

func TestRectifyOrientationCheckFlips(t *testing.T) {
	src := twoToneCard()
	// 顶部暗、底部亮时不翻转；颠倒后应被翻正
	flipped := imaging.FlipV(src)
	r := NewRectifier(&config.RectifierConfig{Width: 50, Height: 70, OrientationCheck: true, OrientationDelta: 20})
	quad := rect(10, 140, 110, 280)
	out, err := r.Rectify(flipped, quad)
	if err != nil {
		t.Fatalf("Rectify returned error: %v", err)
	}
	if c := out.NRGBAAt(25, 5); c.R > 60 {
		t.Fatalf("dark half should stay on top when bottom is brighter, got %v", c)
	}

	out, err = r.Rectify(src, rect(10, 20, 110, 160))
	if err != nil {
		t.Fatalf("Rectify returned error: %v", err)
	}
	if c := out.NRGBAAt(25, 5); c.R > 60 {
		t.Fatalf("card with dark bottom should be rotated, got top %v", c)
	}
}

func TestRectifyDeterministic(t *testing.T) {
	r := NewRectifier(&config.RectifierConfig{Width: 61, Height: 85})
	q := Quad{{14, 25}, {108, 18}, {112, 158}, {9, 163}}
	a, err := r.Rectify(twoToneCard(), q)
	if err != nil {
		t.Fatalf("Rectify returned error: %v", err)
	}
	b, err := r.Rectify(twoToneCard(), q)
	if err != nil {
		t.Fatalf("Rectify returned error: %v", err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("rectification is not deterministic")
	}
}

func TestRectifyRejectsDegenerate(t *testing.T) {
	r := NewRectifier(&config.RectifierConfig{Width: 50, Height: 70})
	q := Quad{{0, 0}, {50, 0}, {100, 0}, {0, 50}}
	if _, err := r.Rectify(twoToneCard(), q); !errors.Is(err, ErrDegenerateRegion) {
		t.Fatalf("expected ErrDegenerateRegion, got %v", err)
	}
}

func TestSortScanOrder(t *testing.T) {
	regions := []Region{
		{Quad: rect(300, 210, 363, 298)},
		{Quad: rect(10, 205, 73, 293)},
		{Quad: rect(160, 12, 223, 100)},
		{Quad: rect(12, 8, 75, 96)},
		{Quad: rect(150, 200, 213, 288)},
	}
	SortScanOrder(regions)
	wantX := []float64{12, 160, 10, 150, 300}
	for i, r := range regions {
		if r.Quad[0].X != wantX[i] {
			t.Fatalf("position %d: got region at x=%v, want x=%v", i, r.Quad[0].X, wantX[i])
		}
	}
}
