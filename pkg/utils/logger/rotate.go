package logger

import (
	"io"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateConfig 日志轮转配置
type RotateConfig struct {
	Filename string // 日志文件路径

	// 按大小轮转（lumberjack）
	MaxSize    int  // 单个文件最大大小（MB）
	MaxBackups int  // 保留的旧文件数量
	Compress   bool // 是否压缩旧文件

	// 按时间轮转（file-rotatelogs）
	MaxAge       int           // 保留天数
	RotationTime time.Duration // 轮转周期
	LocalTime    bool          // 使用本地时间命名
}

// NewRotateBySize 按大小轮转的日志输出
func NewRotateBySize(cfg *RotateConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  cfg.LocalTime,
		Compress:   cfg.Compress,
	}
}

// NewProductionRotateBySize 生产环境常用的按大小轮转配置（100MB、保留30天）
func NewProductionRotateBySize(filename string) io.Writer {
	return NewRotateBySize(&RotateConfig{
		Filename:   filename,
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 100,
		LocalTime:  true,
		Compress:   true,
	})
}

// NewRotateByTime 按时间轮转的日志输出
func NewRotateByTime(cfg *RotateConfig) io.Writer {
	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(cfg.RotationTime),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge) * 24 * time.Hour),
	}
	if cfg.LocalTime {
		opts = append(opts, rotatelogs.WithClock(rotatelogs.Local))
	}
	w, err := rotatelogs.New(cfg.Filename+".%Y%m%d%H", opts...)
	if err != nil {
		// 轮转器创建失败时退回到按大小轮转，保证日志不丢
		return NewRotateBySize(cfg)
	}
	return w
}

// NewProductionRotateByTime 生产环境常用的按时间轮转配置（每小时、保留7天）
func NewProductionRotateByTime(filename string) io.Writer {
	return NewRotateByTime(&RotateConfig{
		Filename:     filename,
		MaxAge:       7,
		RotationTime: time.Hour,
		LocalTime:    true,
	})
}
