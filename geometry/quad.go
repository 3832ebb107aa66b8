// Package geometry 四边形区域的几何运算：角点排序、凸性与退化检查、扫描顺序。
package geometry

import (
	"errors"
	"image"
	"math"
	"sort"
)

// ErrDegenerateRegion 角点共线或重合，无法计算透视变换
var ErrDegenerateRegion = errors.New("degenerate region")

// minQuadArea 小于该面积(像素²)的四边形视为退化
const minQuadArea = 16.0

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func cross(a, b Point) float64 { return a.X*b.Y - a.Y*b.X }

// Quad 图像中的四个角点
type Quad [4]Point

// Region 检测出的候选卡片区域
type Region struct {
	Quad  Quad    `json:"quad"`
	Score float64 `json:"score"`
}

// QuadFromPoints 由整数轮廓点构建四边形，scale用于还原缩放前的坐标
func QuadFromPoints(pts []image.Point, scale float64) (Quad, bool) {
	var q Quad
	if len(pts) != 4 {
		return q, false
	}
	if scale <= 0 {
		scale = 1
	}
	for i, p := range pts {
		q[i] = Point{X: float64(p.X) * scale, Y: float64(p.Y) * scale}
	}
	return q, true
}

func (q Quad) Centroid() Point {
	var c Point
	for _, p := range q {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= 4
	c.Y /= 4
	return c
}

// Area 鞋带公式计算面积(绝对值)
func (q Quad) Area() float64 {
	var s float64
	for i := 0; i < 4; i++ {
		s += cross(q[i], q[(i+1)%4])
	}
	return math.Abs(s) / 2
}

// IsConvex 四条边转向一致时为凸且不自交
func (q Quad) IsConvex() bool {
	sign := 0
	for i := 0; i < 4; i++ {
		e1 := q[(i+1)%4].Sub(q[i])
		e2 := q[(i+2)%4].Sub(q[(i+1)%4])
		c := cross(e1, e2)
		if c == 0 {
			return false
		}
		s := 1
		if c < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// Validate 拒绝重合、共线或面积过小的四边形
func (q Quad) Validate() error {
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if q[i].Dist(q[j]) < 1 {
				return ErrDegenerateRegion
			}
		}
	}
	for i := 0; i < 4; i++ {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		ab, ac := b.Sub(a), c.Sub(a)
		// 三角形面积相对于边长过小即视为共线
		if math.Abs(cross(ab, ac)) < 1e-3*a.Dist(b)*a.Dist(c) {
			return ErrDegenerateRegion
		}
	}
	if q.Area() < minQuadArea {
		return ErrDegenerateRegion
	}
	return nil
}

// Ordered 按绕质心的角度顺时针排列角点(图像坐标系y轴向下)，
// 从x+y最小的角开始；若第一条边是长边则后移一位，使输出为竖版。
func (q Quad) Ordered() Quad {
	c := q.Centroid()
	pts := q
	sort.SliceStable(pts[:], func(i, j int) bool {
		ai := math.Atan2(pts[i].Y-c.Y, pts[i].X-c.X)
		aj := math.Atan2(pts[j].Y-c.Y, pts[j].X-c.X)
		return ai < aj
	})

	start := 0
	for i := 1; i < 4; i++ {
		si := pts[i].X + pts[i].Y
		ss := pts[start].X + pts[start].Y
		if si < ss || (si == ss && pts[i].X < pts[start].X) {
			start = i
		}
	}
	if pts[(start+1)%4].Dist(pts[start]) > pts[(start+2)%4].Dist(pts[(start+1)%4]) {
		start = (start + 1) % 4
	}

	var out Quad
	for i := 0; i < 4; i++ {
		out[i] = pts[(start+i)%4]
	}
	return out
}

// AspectRatio 短边/长边，取对边平均长度
func (q Quad) AspectRatio() float64 {
	o := q.Ordered()
	w := (o[0].Dist(o[1]) + o[3].Dist(o[2])) / 2
	h := (o[1].Dist(o[2]) + o[0].Dist(o[3])) / 2
	if w == 0 || h == 0 {
		return 0
	}
	return math.Min(w, h) / math.Max(w, h)
}

func (q Quad) Bounds() (min, max Point) {
	min, max = q[0], q[0]
	for _, p := range q[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}

// SortScanOrder 按行(从上到下)、行内从左到右排列区域。
// 质心纵坐标与当前行首相差不超过区域高度中位数一半的归为同一行。
func SortScanOrder(regions []Region) {
	if len(regions) < 2 {
		return
	}
	heights := make([]float64, len(regions))
	for i, r := range regions {
		lo, hi := r.Quad.Bounds()
		heights[i] = hi.Y - lo.Y
	}
	sort.Float64s(heights)
	tolerance := heights[len(heights)/2] / 2

	sort.SliceStable(regions, func(i, j int) bool {
		ci, cj := regions[i].Quad.Centroid(), regions[j].Quad.Centroid()
		if ci.Y != cj.Y {
			return ci.Y < cj.Y
		}
		return ci.X < cj.X
	})

	rowStart := 0
	rowY := regions[0].Quad.Centroid().Y
	for i := 1; i <= len(regions); i++ {
		if i < len(regions) && regions[i].Quad.Centroid().Y-rowY <= tolerance {
			continue
		}
		row := regions[rowStart:i]
		sort.SliceStable(row, func(a, b int) bool {
			return row[a].Quad.Centroid().X < row[b].Quad.Centroid().X
		})
		if i < len(regions) {
			rowStart = i
			rowY = regions[i].Quad.Centroid().Y
		}
	}
}
