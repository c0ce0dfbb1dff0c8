package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Secret creates a field for a config.Secret showing only its length.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactingCore rewrites sensitive string fields before they reach the
// wrapped core. Keys are matched case-insensitively by substring.
type redactingCore struct {
	zapcore.Core
	keys     []string
	patterns []*regexp.Regexp
}

func newRedactingCore(inner zapcore.Core, cfg RedactionConfig) (zapcore.Core, error) {
	if !cfg.Enabled {
		return inner, nil
	}
	keys := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys = append(keys, strings.ToLower(f))
	}
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &redactingCore{Core: inner, keys: keys, patterns: patterns}, nil
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{
		Core:     c.Core.With(c.redact(fields)),
		keys:     c.keys,
		patterns: c.patterns,
	}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.redactValue(ent.Message)
	return c.Core.Write(ent, c.redact(fields))
}

func (c *redactingCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if c.sensitiveKey(f.Key) {
			out[i] = zap.String(f.Key, "[REDACTED]")
			continue
		}
		if f.Type == zapcore.StringType {
			out[i].String = c.redactValue(f.String)
		}
	}
	return out
}

func (c *redactingCore) sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range c.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (c *redactingCore) redactValue(val string) string {
	for _, re := range c.patterns {
		val = re.ReplaceAllString(val, "[REDACTED]")
	}
	return val
}
