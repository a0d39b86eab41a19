package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func pickString(fileValue, current string) string {
	if strings.TrimSpace(fileValue) != "" {
		return strings.TrimSpace(fileValue)
	}
	return current
}

func pickDuration(fileValue, current time.Duration) time.Duration {
	if fileValue > 0 {
		return fileValue
	}
	return current
}

func mergeMap(dst, src map[string]string) {
	for k, v := range src {
		dst[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
}

// getEnv 读取带前缀的环境变量
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(EnvPrefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return v
	}
	return defaultValue
}

// parseDurationEnv 支持 "5s" 形式，纯数字按毫秒处理
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// parseListEnv 逗号分隔列表
func parseListEnv(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parsePairsEnv 解析 "a=x,b=y" 形式的键值对
func parsePairsEnv(key string) map[string]string {
	out := map[string]string{}
	for _, item := range parseListEnv(key) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
