package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/TIANLI0/CardKit/config"
	"github.com/TIANLI0/CardKit/model"
	"github.com/TIANLI0/CardKit/pipeline"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Scanner 扫描流水线
type Scanner interface {
	Scan(ctx context.Context, data []byte, mode string) (*model.ScanResult, error)
}

type ScanHandler struct {
	cfg     *config.Config
	scanner Scanner
}

func NewScanHandler(cfg *config.Config, scanner Scanner) *ScanHandler {
	return &ScanHandler{
		cfg:     cfg,
		scanner: scanner,
	}
}

// Scan 识别图片中的所有卡片，mode可通过表单或查询参数指定
func (h *ScanHandler) Scan(c *gin.Context) {
	mode := c.PostForm("mode")
	if mode == "" {
		mode = c.DefaultQuery("mode", "default")
	}
	h.handle(c, mode)
}

// Identify 单卡识别，使用pro模式
func (h *ScanHandler) Identify(c *gin.Context) {
	h.handle(c, "pro")
}

func (h *ScanHandler) handle(c *gin.Context, mode string) {
	ctx := c.Request.Context()
	log := utils.L(ctx)

	file, err := c.FormFile("file")
	if err != nil {
		file, err = c.FormFile("image")
	}
	if err != nil {
		log.Warn("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG/WebP",
			Error:   contentType,
		})
		return
	}

	data, err := readUpload(file, h.cfg.Upload.MaxSize)
	if err != nil {
		log.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}

	log.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.String("mode", mode))

	result, err := h.scanner.Scan(ctx, data, mode)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case pipeline.IsInputError(err):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "无效的图片或扫描模式",
			Error:   err.Error(),
		})
	case errors.Is(err, pipeline.ErrIndexUnavailable) && result != nil:
		// 仍返回完整结果，每张卡标记 database_unavailable
		c.JSON(http.StatusServiceUnavailable, result)
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrIndexUnavailable):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Success: false,
			Message: "服务繁忙或卡牌数据库不可用，请稍后重试",
			Error:   err.Error(),
		})
	default:
		log.Error("failed to process image", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   err.Error(),
		})
	}
}

func readUpload(file *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("upload exceeds %d bytes", limit)
	}
	return data, nil
}

// isAllowedType 未声明类型时交给解码器判断
func (h *ScanHandler) isAllowedType(contentType string) bool {
	if contentType == "" || strings.EqualFold(contentType, "application/octet-stream") {
		return true
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
