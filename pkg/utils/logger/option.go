package logger

import (
	"time"

	"go.uber.org/zap"
)

// Option 透传zap的构建选项
type Option = zap.Option

// AddCaller 在日志中记录调用位置
func AddCaller() Option {
	return zap.AddCaller()
}

// AddCallerSkip 调整调用栈跳过层数（包级函数封装时使用）
func AddCallerSkip(skip int) Option {
	return zap.AddCallerSkip(skip)
}

// AddStacktrace 在指定级别及以上附加堆栈
func AddStacktrace(level Level) Option {
	return zap.AddStacktrace(level)
}

// 常用字段构造函数（避免业务代码直接依赖zap）

func String(key, val string) Field          { return zap.String(key, val) }
func Int(key string, val int) Field         { return zap.Int(key, val) }
func Int64(key string, val int64) Field     { return zap.Int64(key, val) }
func Uint8(key string, val uint8) Field     { return zap.Uint8(key, val) }
func Uint32(key string, val uint32) Field   { return zap.Uint32(key, val) }
func Uint64(key string, val uint64) Field   { return zap.Uint64(key, val) }
func Float64(key string, val float64) Field { return zap.Float64(key, val) }
func Bool(key string, val bool) Field       { return zap.Bool(key, val) }
func Err(err error) Field                   { return zap.Error(err) }

func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
