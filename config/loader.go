package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 📦 配置加载
// =============================================================================
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("poolgovernor.yaml").
//	    WithEnvPrefix("POOLGOVERNOR").
//	    Load()
//
// 优先级: 默认值 → YAML 文件 → 环境变量。
// YAML 中出现未知键视为错误，避免拼错的键被静默忽略。

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "POOLGOVERNOR"

var durationType = reflect.TypeOf(time.Duration(0))

// Loader 配置加载器
type Loader struct {
	path        string
	requireFile bool
	envPrefix   string
	lookupEnv   func(string) (string, bool)
	validators  []func(*Config) error
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 文件路径，文件不存在时只使用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// RequireFile 要求配置文件必须存在
func (l *Loader) RequireFile() *Loader {
	l.requireFile = true
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加加载后执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 按优先级合成配置并执行追加的校验
// 不调用 Config.Validate，调用方决定何时做完整校验。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.path != "" {
		if err := l.applyFile(cfg); err != nil {
			return nil, err
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) applyFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !l.requireFile:
		return nil
	case err != nil:
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", l.path, err)
	}
	return nil
}

// =============================================================================
// 🌱 环境变量覆盖
// =============================================================================

// applyEnv 按 env 标签递归覆盖字段，收集所有无法解析的变量后一起返回
// 空值视为未设置；env:"-" 的字段（如 governor.pools）只能由文件配置。
func (l *Loader) applyEnv(cfg *Config) error {
	var errs []error
	l.bindStruct(reflect.ValueOf(cfg).Elem(), l.envPrefix, &errs)
	if len(errs) > 0 {
		return fmt.Errorf("load config from env: %w", errors.Join(errs...))
	}
	return nil
}

func (l *Loader) bindStruct(v reflect.Value, prefix string, errs *[]error) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			l.bindStruct(field, key, errs)
			continue
		}

		raw, ok := l.lookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		}
	}
}

// setField 把字符串解析为字段类型，[]string 按逗号切分
func setField(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}

	switch kind := field.Kind(); {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))

	case kind == reflect.String:
		field.SetString(raw)

	case kind == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case kind >= reflect.Int && kind <= reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)

	case kind >= reflect.Uint && kind <= reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)

	case kind == reflect.Float32 || kind == reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case kind == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		field.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
