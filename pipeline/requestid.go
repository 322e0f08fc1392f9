package pipeline

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDGenerator 请求ID生成器
type IDGenerator func() string

// NewRequestID 随机请求ID，32位小写十六进制
func NewRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
