package config

import (
	"fmt"
	"reflect"

	"github.com/BaSui01/datalayer/types"
)

// 传统命名选项与 DatabaseConfig env tag 的对应关系
var namedOptionKeys = []struct {
	Key string
	Tag string
}{
	{"DATABASE_URL", "URL"},
	{"DB_ECHO", "ECHO"},
	{"DB_POOL_SIZE", "POOL_SIZE"},
	{"DB_MAX_OVERFLOW", "MAX_OVERFLOW"},
	{"DB_POOL_TIMEOUT", "POOL_TIMEOUT"},
	{"DB_POOL_RECYCLE", "POOL_RECYCLE"},
	{"DB_QUERY_TIMEOUT", "QUERY_TIMEOUT"},
	{"DB_CONNECTION_RETRIES", "CONNECTION_RETRIES"},
	{"ENVIRONMENT", "ENVIRONMENT"},
}

// NamedOptionKeys 返回可识别的命名选项
func NamedOptionKeys() []string {
	keys := make([]string, len(namedOptionKeys))
	for i, k := range namedOptionKeys {
		keys[i] = k.Key
	}
	return keys
}

// FromOptions 由命名选项构造原始 DatabaseConfig。
// 未知键被忽略；无法解析的值返回 CONFIGURATION 错误。
func FromOptions(opts map[string]string) (DatabaseConfig, error) {
	var cfg DatabaseConfig
	err := applyNamedOptions(&cfg, func(key string) (string, bool) {
		v, ok := opts[key]
		return v, ok
	})
	return cfg, err
}

func applyNamedOptions(cfg *DatabaseConfig, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for _, opt := range namedOptionKeys {
		raw, ok := lookup(opt.Key)
		if !ok || raw == "" {
			continue
		}
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).Tag.Get("env") != opt.Tag {
				continue
			}
			if err := setFieldValue(v.Field(i), raw); err != nil {
				return types.Errorf(types.ErrConfiguration, "invalid value for %s", opt.Key).
					WithField(opt.Key).
					WithCause(fmt.Errorf("%q: %w", raw, err))
			}
			break
		}
	}
	return nil
}
