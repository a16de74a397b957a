package logger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/lumberjack/v2"
)

const (
	defaultAuditMaxSize    = 64 * humanize.MiByte
	defaultAuditMaxBackups = 5
	defaultAuditMaxAgeDays = 14
)

func parseSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultAuditMaxSize, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("无法解析审计日志大小 %q: %w", raw, err)
	}
	if n == 0 {
		return defaultAuditMaxSize, nil
	}
	return int64(n), nil
}

// megabytes 把字节数换算成 lumberjack 使用的 MB 单位，向上取整且至少为 1。
func megabytes(n int64) int {
	mb := (n + humanize.MiByte - 1) / humanize.MiByte
	if mb < 1 {
		return 1
	}
	return int(mb)
}

// newAuditWriter 创建按大小滚动的审计文件。
func newAuditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("启用审计日志时必须提供 path")
	}
	maxBytes, err := parseSize(cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	backups := cfg.MaxBackups
	if backups <= 0 {
		backups = defaultAuditMaxBackups
	}
	age := cfg.MaxAgeDays
	if age <= 0 {
		age = defaultAuditMaxAgeDays
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    megabytes(maxBytes),
		MaxBackups: backups,
		MaxAge:     age,
		LocalTime:  true,
	}, nil
}
