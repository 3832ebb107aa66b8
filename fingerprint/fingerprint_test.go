package fingerprint

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/CardKit/config"
	"github.com/disintegration/imaging"
)

func testEngine() *Engine {
	return NewEngine(&config.FingerprintConfig{HashSize: 16, HighFreqFactor: 4})
}

// artwork 带渐变和色块的合成卡面
func artwork() *image.NRGBA {
	img := imaging.New(122, 170, color.NRGBA{0, 0, 0, 255})
	for y := 0; y < 170; y++ {
		for x := 0; x < 122; x++ {
			v := uint8(40 + (x*80)/122 + (y*60)/170)
			c := color.NRGBA{v, v / 2, 200 - v/2, 255}
			if x > 20 && x < 70 && y > 30 && y < 90 {
				c = color.NRGBA{220, 190, 60, 255}
			}
			if (x-90)*(x-90)+(y-130)*(y-130) < 300 {
				c = color.NRGBA{30, 60, 160, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func checkerboard() *image.NRGBA {
	img := imaging.New(122, 170, color.NRGBA{0, 0, 0, 255})
	for y := 0; y < 170; y++ {
		for x := 0; x < 122; x++ {
			if (x/15+y/15)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{230, 230, 230, 255})
			}
		}
	}
	return img
}

func TestComputeDeterministic(t *testing.T) {
	e := testEngine()
	a, err := e.Compute(artwork())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	b, err := e.Compute(artwork())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if a.Len() != 256 || e.Bits() != 256 {
		t.Fatalf("expected 256 bits, got %d", a.Len())
	}
}

func TestComputeRobustToBrightness(t *testing.T) {
	e := testEngine()
	base, _ := e.Compute(artwork())
	brighter, _ := e.Compute(imaging.AdjustBrightness(artwork(), 8))
	d, err := Distance(base, brighter)
	if err != nil {
		t.Fatalf("Distance returned error: %v", err)
	}
	if d > 12 {
		t.Fatalf("brightness change moved fingerprint by %d bits", d)
	}
}

func TestComputeSeparatesDifferentImages(t *testing.T) {
	e := testEngine()
	a, _ := e.Compute(artwork())
	b, _ := e.Compute(checkerboard())
	d, _ := Distance(a, b)
	if d < 40 {
		t.Fatalf("unrelated images too close: %d bits", d)
	}
}

func TestComputeEmptyImage(t *testing.T) {
	if _, err := testEngine().Compute(image.NewNRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestHexRoundTrip(t *testing.T) {
	fp, _ := testEngine().Compute(artwork())
	s := fp.String()
	if len(s) != 64 {
		t.Fatalf("expected 64 hex digits, got %d", len(s))
	}
	parsed, err := ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex returned error: %v", err)
	}
	if !parsed.Equal(fp) {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, fp)
	}
}

func TestHexBitOrder(t *testing.T) {
	fp, err := ParseHex("8001")
	if err != nil {
		t.Fatalf("ParseHex returned error: %v", err)
	}
	if !fp.Bit(0) || !fp.Bit(15) || fp.Bit(1) || fp.Bit(14) {
		t.Fatalf("unexpected bit layout for %s", fp)
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestDistance(t *testing.T) {
	a, _ := ParseHex("ff00")
	b, _ := ParseHex("0f01")
	d, err := Distance(a, b)
	if err != nil || d != 5 {
		t.Fatalf("expected distance 5, got %d (%v)", d, err)
	}
	c, _ := ParseHex("ff")
	if _, err := Distance(a, c); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
