package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"

	"github.com/TIANLI0/CardKit/config"
	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// TitleReader 识别校正后卡面顶部的名称栏
type TitleReader struct {
	language string
}

func NewTitleReader(cfg *config.OCRConfig) *TitleReader {
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	return &TitleReader{language: lang}
}

// titleStrip 名称栏在标准卡面中的位置(488x680坐标系)
var titleStrip = image.Rect(30, 28, 400, 70)

// ReadTitle 返回识别出的名称，识别失败时返回空字符串
func (r *TitleReader) ReadTitle(ctx context.Context, card *image.NRGBA) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b := card.Bounds()
	sx := float64(b.Dx()) / 488
	sy := float64(b.Dy()) / 680
	strip := image.Rect(
		int(float64(titleStrip.Min.X)*sx), int(float64(titleStrip.Min.Y)*sy),
		int(float64(titleStrip.Max.X)*sx), int(float64(titleStrip.Max.Y)*sy),
	)

	crop := imaging.Crop(card, strip)
	crop = imaging.Grayscale(crop)
	crop = imaging.AdjustContrast(crop, 20)
	if crop.Bounds().Dy() < 80 {
		crop = imaging.Resize(crop, 0, 80, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(r.language); err != nil {
		return "", err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", err
	}
	text, err := client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
