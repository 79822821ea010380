// Package svcfields tags loggers with dot-delimited subsystem paths
// (server.http, storage.disk, client.feed) so output can be filtered per
// component.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the log field carrying the subsystem path.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins the non-empty parts with dots. Leading and trailing dots
// and spaces on each part are stripped.
func Subsystem(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

// WithSubsystem returns a logger whose entries carry the subsystem path. A
// nil logger yields the noop logger, so callers can tag unconditionally.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if subsystem = strings.Trim(subsystem, ". "); subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
