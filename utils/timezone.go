package utils

import (
	"time"
)

var (
	// GlobalLocation 全局配置的时区
	GlobalLocation *time.Location = time.UTC
)

// SetLocation 设置全局时区
// 账本内部统一使用 UTC 存储，该时区只影响日志与展示。
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		if GlobalLocation == nil {
			GlobalLocation = time.UTC
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// ToUTC 将时间转换为UTC时间
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// NowConfiguredTimezone 获取当前配置时区的时间
func NowConfiguredTimezone() time.Time {
	return time.Now().In(GlobalLocation)
}
