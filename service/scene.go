package service

import (
	"image"

	"gocv.io/x/gocv"
)

// SceneAnalyzer 分析拍摄背景，决定二值化极性
type SceneAnalyzer struct{}

type SceneInfo struct {
	EdgeDensity float64
	BorderMean  float64
	GlobalMean  float64
	// LightBackground 背景比整体亮，卡片需要反相才能成为前景
	LightBackground bool
}

func NewSceneAnalyzer() *SceneAnalyzer {
	return &SceneAnalyzer{}
}

// Analyze gray为预处理后的灰度图，edges为同尺寸的边缘图
func (sa *SceneAnalyzer) Analyze(gray, edges *gocv.Mat) SceneInfo {
	borderMean := sa.borderMean(gray)
	globalMean := gray.Mean().Val1

	return SceneInfo{
		EdgeDensity:     sa.edgeDensity(edges),
		BorderMean:      borderMean,
		GlobalMean:      globalMean,
		LightBackground: borderMean > globalMean,
	}
}

func (sa *SceneAnalyzer) edgeDensity(edges *gocv.Mat) float64 {
	total := float64(edges.Rows() * edges.Cols())
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(*edges)) / total
}

// borderMean 四条边框带的平均灰度，带宽为短边的1/20
func (sa *SceneAnalyzer) borderMean(gray *gocv.Mat) float64 {
	w, h := gray.Cols(), gray.Rows()
	band := max(1, min(w, h)/20)
	strips := []image.Rectangle{
		image.Rect(0, 0, w, band),
		image.Rect(0, h-band, w, h),
		image.Rect(0, band, band, h-band),
		image.Rect(w-band, band, w, h-band),
	}

	var sum, weight float64
	for _, r := range strips {
		if r.Empty() {
			continue
		}
		region := gray.Region(r)
		area := float64(r.Dx() * r.Dy())
		sum += region.Mean().Val1 * area
		weight += area
		region.Close()
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}
