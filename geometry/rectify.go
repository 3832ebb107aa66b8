package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/TIANLI0/CardKit/config"
	"github.com/disintegration/imaging"
)

// Rectifier 将候选区域透视校正为固定尺寸的竖版卡片图像
type Rectifier struct {
	width            int
	height           int
	orientationCheck bool
	orientationDelta float64
}

func NewRectifier(cfg *config.RectifierConfig) *Rectifier {
	return &Rectifier{
		width:            cfg.Width,
		height:           cfg.Height,
		orientationCheck: cfg.OrientationCheck,
		orientationDelta: cfg.OrientationDelta,
	}
}

// Rectify 对src中的四边形做透视校正。同一输入总是得到逐像素相同的输出。
func (r *Rectifier) Rectify(src *image.NRGBA, q Quad) (*image.NRGBA, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !q.IsConvex() {
		return nil, fmt.Errorf("non-convex quad: %w", ErrDegenerateRegion)
	}
	o := q.Ordered()

	w, h := float64(r.width), float64(r.height)
	canonical := [4]Point{{0, 0}, {w, 0}, {w, h}, {0, h}}
	// 目标坐标 -> 源坐标，逐像素反向采样
	inverse, err := SolveHomography(canonical, [4]Point(o))
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			s := inverse.Apply(Point{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			off := y*dst.Stride + x*4
			sampleBilinear(src, s.X-0.5, s.Y-0.5, dst.Pix[off:off+4])
		}
	}

	if r.orientationCheck && r.upsideDown(dst) {
		dst = imaging.Rotate180(dst)
	}
	return dst, nil
}

// upsideDown 底部明显暗于顶部时认为卡片倒置
func (r *Rectifier) upsideDown(img *image.NRGBA) bool {
	strip := max(1, r.height*50/680)
	top := meanLuma(img, 0, strip)
	bottom := meanLuma(img, r.height-strip, r.height)
	return bottom < top-r.orientationDelta
}

func meanLuma(img *image.NRGBA, y0, y1 int) float64 {
	b := img.Bounds()
	var sum float64
	n := 0
	for y := y0; y < y1; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := y*img.Stride + x*4
			p := img.Pix[off : off+3]
			sum += 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// sampleBilinear 在像素中心网格上双线性插值，越界时取边缘像素
func sampleBilinear(src *image.NRGBA, fx, fy float64, out []uint8) {
	b := src.Bounds()
	maxX, maxY := b.Dx()-1, b.Dy()-1
	if math.IsInf(fx, 0) || math.IsNaN(fx) || math.IsInf(fy, 0) || math.IsNaN(fy) {
		out[0], out[1], out[2], out[3] = 0, 0, 0, 255
		return
	}
	fx = math.Max(0, math.Min(fx, float64(maxX)))
	fy = math.Max(0, math.Min(fy, float64(maxY)))

	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, maxX), min(y0+1, maxY)
	dx, dy := fx-float64(x0), fy-float64(y0)

	p00 := src.PixOffset(b.Min.X+x0, b.Min.Y+y0)
	p10 := src.PixOffset(b.Min.X+x1, b.Min.Y+y0)
	p01 := src.PixOffset(b.Min.X+x0, b.Min.Y+y1)
	p11 := src.PixOffset(b.Min.X+x1, b.Min.Y+y1)
	for c := 0; c < 4; c++ {
		top := float64(src.Pix[p00+c])*(1-dx) + float64(src.Pix[p10+c])*dx
		bot := float64(src.Pix[p01+c])*(1-dx) + float64(src.Pix[p11+c])*dx
		v := top*(1-dy) + bot*dy
		out[c] = uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
}
