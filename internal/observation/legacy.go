package observation

import "github.com/hpungsan/promptmeta/internal/ps1"

// LegacyOverrides carries the flat exit_code and command_id values that
// older producers set on the output record itself instead of on its
// metadata. command_id is the old name for the pid.
type LegacyOverrides struct {
	ExitCode  *int
	CommandID *int
}

// LegacyFromFields picks the legacy keys out of a decoded record. Values
// are coerced like prompt metadata; an uncoercible value overrides with -1.
func LegacyFromFields(fields map[string]any) LegacyOverrides {
	var l LegacyOverrides
	if raw, ok := fields["exit_code"]; ok {
		v, _ := ps1.CoerceInt(raw)
		l.ExitCode = &v
	}
	if raw, ok := fields["command_id"]; ok {
		v, _ := ps1.CoerceInt(raw)
		l.CommandID = &v
	}
	return l
}

// IsZero reports whether no override is present.
func (l LegacyOverrides) IsZero() bool {
	return l.ExitCode == nil && l.CommandID == nil
}

// Apply returns m with the overrides written into their canonical fields.
func (l LegacyOverrides) Apply(m ps1.Metadata) ps1.Metadata {
	if l.ExitCode != nil {
		m.ExitCode = *l.ExitCode
	}
	if l.CommandID != nil {
		m.PID = *l.CommandID
	}
	return m
}
