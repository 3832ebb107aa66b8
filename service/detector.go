package service

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"
	"time"

	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/geometry"
	"github.com/TIANLI0/CardKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DetectorService 基于轮廓的卡片区域检测
type DetectorService struct {
	maxSide       int
	sceneAnalyzer *SceneAnalyzer
	preprocessor  *Preprocessor
}

func NewDetectorService(cfg *config.PipelineConfig) *DetectorService {
	return &DetectorService{
		maxSide:       cfg.MaxSide,
		sceneAnalyzer: NewSceneAnalyzer(),
		preprocessor:  NewPreprocessor(),
	}
}

// Detect 返回按扫描顺序(自上而下、自左而右)排列的候选区域，坐标属于原图
func (s *DetectorService) Detect(ctx context.Context, img *image.NRGBA, profile config.ScanProfile) ([]geometry.Region, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	startTime := time.Now()

	mat, err := imageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// 大图缩小后检测，角点再按比例还原
	scaled, scale := smartResize(&mat, s.maxSide)
	defer scaled.Close()

	gray := s.preprocessor.Enhance(&scaled, profile.ContrastClip)
	defer gray.Close()
	edges := s.preprocessor.Edges(&gray)
	defer edges.Close()

	scene := s.sceneAnalyzer.Analyze(&gray, &edges)

	binary := s.preprocessor.Binarize(&gray, &edges, scene.LightBackground)
	defer binary.Close()
	mask := s.preprocessor.MorphologyOptimize(&binary)
	defer mask.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regions := s.findCandidates(&mask, scale, profile)
	if profile.MaxRegions > 0 && len(regions) > profile.MaxRegions {
		sort.SliceStable(regions, func(i, j int) bool { return regions[i].Score > regions[j].Score })
		regions = regions[:profile.MaxRegions]
	}
	geometry.SortScanOrder(regions)

	utils.L(ctx).Debug("region detection finished",
		zap.Int("regions", len(regions)),
		zap.Float64("scale", scale),
		zap.Float64("edge_density", scene.EdgeDensity),
		zap.Bool("light_background", scene.LightBackground),
		zap.Duration("duration", time.Since(startTime)))

	return regions, nil
}

// findCandidates 过滤外轮廓：面积比例、四角近似、凸性与长宽比
func (s *DetectorService) findCandidates(mask *gocv.Mat, scale float64, p config.ScanProfile) []geometry.Region {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	imageArea := float64(mask.Rows() * mask.Cols())
	var regions []geometry.Region
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		ratio := area / imageArea
		if ratio < p.MinAreaRatio || ratio > p.MaxAreaRatio {
			continue
		}

		perimeter := gocv.ArcLength(c, true)
		approx := gocv.ApproxPolyDP(c, p.ApproxEpsilon*perimeter, true)
		pts := approx.ToPoints()
		approx.Close()

		q, ok := geometry.QuadFromPoints(pts, 1/scale)
		if !ok || !q.IsConvex() || q.Validate() != nil {
			continue
		}
		aspect := q.AspectRatio()
		diff := math.Abs(aspect - p.AspectRatio)
		if diff > p.AspectTolerance {
			continue
		}

		// 轮廓填充度 × 长宽比接近度，取值(0,1]
		quadArea := q.Area() * scale * scale
		fill := 1.0
		if quadArea > 0 {
			fill = math.Min(1, area/quadArea)
		}
		closeness := 1 - diff/(2*p.AspectTolerance)
		regions = append(regions, geometry.Region{Quad: q, Score: fill * closeness})
	}
	return regions
}
