package fingerprint

import (
	"image"
	"math"
	"sort"

	"github.com/TIANLI0/CardKit/config"
	"github.com/disintegration/imaging"
)

// Engine 频域感知哈希：缩小为灰度方阵，二维DCT-II，取左上角低频系数与其中位数比较。
// 无内部可变状态，可并发使用。
type Engine struct {
	hashSize int
	imgSize  int
	cos      [][]float64 // cos[k][n] = cos(pi*k*(2n+1)/(2N))，只保留 k < hashSize
}

func NewEngine(cfg *config.FingerprintConfig) *Engine {
	hashSize := cfg.HashSize
	factor := max(1, cfg.HighFreqFactor)
	n := hashSize * factor

	table := make([][]float64, hashSize)
	for k := range table {
		table[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			table[k][i] = math.Cos(math.Pi * float64(k) * float64(2*i+1) / float64(2*n))
		}
	}
	return &Engine{hashSize: hashSize, imgSize: n, cos: table}
}

// Bits 指纹位数
func (e *Engine) Bits() int { return e.hashSize * e.hashSize }

// Compute 计算图像的指纹，相同像素输入总是得到相同结果
func (e *Engine) Compute(img image.Image) (Fingerprint, error) {
	if img == nil || img.Bounds().Empty() {
		return Fingerprint{}, ErrEmptyImage
	}
	n, h := e.imgSize, e.hashSize

	small := imaging.Resize(imaging.Grayscale(img), n, n, imaging.Lanczos)
	pixels := make([]float64, n*n)
	for y := 0; y < n; y++ {
		row := small.Pix[y*small.Stride : y*small.Stride+n*4]
		for x := 0; x < n; x++ {
			pixels[y*n+x] = float64(row[x*4])
		}
	}

	// 先沿列方向(axis 0)，再沿行方向(axis 1)
	cols := make([]float64, h*n)
	for k := 0; k < h; k++ {
		ck := e.cos[k]
		for x := 0; x < n; x++ {
			var s float64
			for y := 0; y < n; y++ {
				s += pixels[y*n+x] * ck[y]
			}
			cols[k*n+x] = 2 * s
		}
	}
	low := make([]float64, h*h)
	for k := 0; k < h; k++ {
		for l := 0; l < h; l++ {
			cl := e.cos[l]
			var s float64
			for x := 0; x < n; x++ {
				s += cols[k*n+x] * cl[x]
			}
			low[k*h+l] = 2 * s
		}
	}

	med := median(low)
	fp := New(h * h)
	for i, v := range low {
		if v > med {
			fp.set(i)
		}
	}
	return fp, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
