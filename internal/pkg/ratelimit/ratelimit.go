package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// 冷却键存在时拒绝；窗口内计数达到上限时拒绝；否则写冷却键并计数
const sendThrottleLua = `
local cooldown = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  return {0, ttl}
end

local count = tonumber(redis.call("GET", KEYS[2]) or "0")
if limit > 0 and count >= limit then
  local wait = redis.call("PTTL", KEYS[2])
  if wait < 0 then
    wait = window
  end
  return {0, wait}
end

if cooldown > 0 then
  redis.call("SET", KEYS[1], "1", "PX", cooldown)
end
count = redis.call("INCR", KEYS[2])
if count == 1 then
  redis.call("PEXPIRE", KEYS[2], window)
end
return {1, 0}
`

// SendLimiter 验证码发送频控：同一键两次发送间隔不少于 cooldown，窗口内最多 limit 次
type SendLimiter struct {
	rdb      *redis.Client
	prefix   string
	cooldown time.Duration
	window   time.Duration
	limit    int
	script   *redis.Script
}

func NewSendLimiter(rdb *redis.Client, prefix string, cooldown, window time.Duration, limit int) *SendLimiter {
	if prefix == "" {
		prefix = "kimochi:codes"
	}
	if window <= 0 {
		window = time.Hour
	}
	return &SendLimiter{
		rdb:      rdb,
		prefix:   prefix,
		cooldown: cooldown,
		window:   window,
		limit:    limit,
		script:   redis.NewScript(sendThrottleLua),
	}
}

// Allow 检查并占用一次发送额度，拒绝时返回需等待的时长
func (l *SendLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.rdb == nil {
		return true, 0, nil
	}
	keys := []string{
		l.prefix + ":cooldown:" + key,
		l.prefix + ":quota:" + key,
	}
	res, err := l.script.Run(ctx, l.rdb, keys,
		l.cooldown.Milliseconds(), l.window.Milliseconds(), l.limit).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	allowed := toInt64(values[0]) == 1
	wait := time.Duration(toInt64(values[1])) * time.Millisecond
	return allowed, wait, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
