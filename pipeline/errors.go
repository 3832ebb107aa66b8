package pipeline

import (
	"errors"

	"github.com/TIANLI0/CardKit/index"
)

var (
	// ErrInvalidImage 空或无法解码的图片，整个请求失败且不重试
	ErrInvalidImage = errors.New("invalid image")
	ErrUnknownMode  = errors.New("unknown scan mode")
	// ErrQueueFull 等待处理槽位超时
	ErrQueueFull = errors.New("processing queue is full, retry later")
	// ErrIndexUnavailable 未加载参考库，结果中每张卡都标记为 database_unavailable
	ErrIndexUnavailable = index.ErrUnavailable
)

// IsInputError 调用方输入导致的错误
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidImage) || errors.Is(err, ErrUnknownMode)
}
