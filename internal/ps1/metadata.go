package ps1

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/logging"
)

// Unknown marks an exit code or pid that was not established.
const Unknown = -1

// Metadata is the execution record a prompt reports after one command.
type Metadata struct {
	ExitCode        int     `json:"exit_code"`
	PID             int     `json:"pid"`
	Username        *string `json:"username"`
	Hostname        *string `json:"hostname"`
	WorkingDir      *string `json:"working_dir"`
	InterpreterPath *string `json:"py_interpreter_path"`
	Prefix          string  `json:"prefix"`
	Suffix          string  `json:"suffix"`
}

// NewMetadata returns a record with nothing established.
func NewMetadata() Metadata {
	return Metadata{ExitCode: Unknown, PID: Unknown}
}

// HasExitCode reports whether an exit code was captured.
func (m Metadata) HasExitCode() bool {
	return m.ExitCode != Unknown
}

// stringFields maps wire keys to the optional string fields they fill.
var stringFields = []struct {
	key string
	set func(*Metadata, *string)
}{
	{"username", func(m *Metadata, v *string) { m.Username = v }},
	{"hostname", func(m *Metadata, v *string) { m.Hostname = v }},
	{"working_dir", func(m *Metadata, v *string) { m.WorkingDir = v }},
	{"py_interpreter_path", func(m *Metadata, v *string) { m.InterpreterPath = v }},
}

// FromFields builds a Metadata from a decoded JSON object.
//
// pid and exit_code are coerced with CoerceInt; a failure leaves -1 (a
// warning is logged for exit_code only). The optional string fields accept
// strings or null, prefix/suffix accept strings. Any other value type makes
// the field offending and the call returns a VALIDATION_FAILED error naming
// every offending field. Unknown keys are ignored.
func FromFields(fields map[string]any, logger *zap.Logger) (Metadata, error) {
	logger = logging.OrNop(logger)
	m := NewMetadata()
	var offending []string

	if raw, ok := fields["pid"]; ok {
		m.PID, _ = CoerceInt(raw)
	}
	if raw, ok := fields["exit_code"]; ok {
		code, ok := CoerceInt(raw)
		if !ok {
			logger.Warn("Failed to parse exit code, setting to -1", zap.Any("exit_code", raw))
		}
		m.ExitCode = code
	}

	for _, f := range stringFields {
		raw, ok := fields[f.key]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			offending = append(offending, f.key)
			continue
		}
		f.set(&m, &s)
	}

	for key, dst := range map[string]*string{"prefix": &m.Prefix, "suffix": &m.Suffix} {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			offending = append(offending, key)
			continue
		}
		*dst = s
	}

	if len(offending) > 0 {
		sort.Strings(offending)
		return NewMetadata(), errors.NewValidation(offending)
	}
	return m, nil
}

// CoerceInt converts a shell-produced value to an int by parsing it as a
// float and truncating toward zero. Integers, floats and numeric strings
// ("0", "12.0", " 7 ") succeed. null, booleans, non-numeric strings such as
// "null", NaN, infinities and out-of-range values return (-1, false).
func CoerceInt(v any) (int, bool) {
	var f float64
	switch x := v.(type) {
	case nil, bool:
		return Unknown, false
	case json.Number:
		parsed, err := cast.ToFloat64E(x.String())
		if err != nil {
			return Unknown, false
		}
		f = parsed
	case string:
		parsed, err := cast.ToFloat64E(strings.TrimSpace(x))
		if err != nil {
			return Unknown, false
		}
		f = parsed
	default:
		parsed, err := cast.ToFloat64E(v)
		if err != nil {
			return Unknown, false
		}
		f = parsed
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return Unknown, false
	}
	return int(math.Trunc(f)), true
}
