// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	settings := testutil.MemorySettings(t)
//	testutil.AssertErrorCode(t, err, types.ErrPoolTimeout)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// TestLogger 返回输出到 t.Log 的 zap 日志
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// =============================================================================
// 🗄️ 数据库配置辅助
// =============================================================================

// SettingsOption 在校验后调整测试配置
type SettingsOption func(*config.Settings)

// MemorySettings 返回 test 环境的内存 sqlite 配置。
// 重试延迟被缩短到毫秒级，使重试相关测试保持快速。
func MemorySettings(t *testing.T, opts ...SettingsOption) config.Settings {
	t.Helper()
	return mustSettings(t, "sqlite://", opts...)
}

// FileSettings 返回指向临时目录中数据库文件的 sqlite 配置，
// 可拥有多条物理连接，用于连接池容量相关测试。
func FileSettings(t *testing.T, opts ...SettingsOption) config.Settings {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	return mustSettings(t, "sqlite:///"+filepath.ToSlash(path), opts...)
}

func mustSettings(t *testing.T, url string, opts ...SettingsOption) config.Settings {
	t.Helper()

	base := time.Millisecond
	maxDelay := 10 * time.Millisecond
	grace := 2 * time.Second
	s, err := config.Validate(config.DatabaseConfig{
		URL:                 url,
		Environment:         string(config.EnvTest),
		RetryBaseDelay:      &base,
		RetryMaxDelay:       &maxDelay,
		ShutdownGracePeriod: &grace,
	})
	if err != nil {
		t.Fatalf("invalid test settings for %s: %v", url, err)
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithPool 设置连接池大小与溢出上限
func WithPool(size, overflow int) SettingsOption {
	return func(s *config.Settings) {
		s.PoolSize = size
		s.MaxOverflow = overflow
	}
}

// WithPoolTimeout 设置获取连接的等待上限
func WithPoolTimeout(d time.Duration) SettingsOption {
	return func(s *config.Settings) { s.PoolTimeout = d }
}

// WithRetries 设置瞬时故障重试次数
func WithRetries(n int) SettingsOption {
	return func(s *config.Settings) { s.ConnectionRetries = n }
}

// WithGracePeriod 设置关闭宽限期
func WithGracePeriod(d time.Duration) SettingsOption {
	return func(s *config.Settings) { s.ShutdownGracePeriod = d }
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertErrorCode 断言错误携带指定的错误码
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Errorf("expected %s error but got nil", code)
		return
	}
	if got := types.GetErrorCode(err); got != code {
		t.Errorf("error code mismatch: expected %s, got %q (%v)", code, got, err)
	}
}

// AssertJSONKeys 断言值序列化后恰好包含给定的顶层字段
func AssertJSONKeys(t *testing.T, v any, keys ...string) {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("value is not a JSON object: %s", data)
	}

	if len(m) != len(keys) {
		t.Errorf("JSON key count mismatch: expected %d, got %d in %s", len(keys), len(m), data)
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			t.Errorf("JSON key %q missing in %s", k, data)
		}
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// AssertContains 断言字符串包含子串
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
