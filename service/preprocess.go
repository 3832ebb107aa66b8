package service

import (
	"image"

	"gocv.io/x/gocv"
)

// Preprocessor 检测前的图像增强与二值化
type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Enhance 灰度化、CLAHE对比度增强、高斯模糊
func (p *Preprocessor) Enhance(img *gocv.Mat, clip float64) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	if clip <= 0 {
		clip = 2.0
	}
	clahe := gocv.NewCLAHEWithParams(clip, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(gray, &equalized)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(equalized, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)
	return blurred
}

// Edges Canny边缘
func (p *Preprocessor) Edges(gray *gocv.Mat) gocv.Mat {
	edges := gocv.NewMat()
	gocv.Canny(*gray, &edges, 50, 150)
	return edges
}

// Binarize Otsu阈值，背景较亮时反相，再并入边缘图
func (p *Preprocessor) Binarize(gray, edges *gocv.Mat, inverted bool) gocv.Mat {
	typ := gocv.ThresholdBinary
	if inverted {
		typ = gocv.ThresholdBinaryInv
	}
	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(*gray, &thresh, 0, 255, typ|gocv.ThresholdOtsu)

	combined := gocv.NewMat()
	gocv.BitwiseOr(thresh, *edges, &combined)
	return combined
}

// MorphologyOptimize 闭运算3次填补卡面内部，开运算去噪点，最后膨胀连接断开的边框
func (p *Preprocessor) MorphologyOptimize(mask *gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 5, Y: 5})
	defer kernel.Close()

	closed := mask.Clone()
	for i := 0; i < 3; i++ {
		next := gocv.NewMat()
		gocv.MorphologyEx(closed, &next, gocv.MorphClose, kernel)
		closed.Close()
		closed = next
	}

	opened := gocv.NewMat()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)
	closed.Close()

	dilated := gocv.NewMat()
	gocv.Dilate(opened, &dilated, kernel)
	opened.Close()

	return dilated
}
