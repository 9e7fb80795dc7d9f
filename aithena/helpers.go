package aithena

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger carried by ctx, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// formatDollarString renders a cost like "$0.0420".
func formatDollarString(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// parseSnowflake converts a Discord snowflake string to its numeric form.
// Returns 0 for empty or malformed input (Discord never assigns ID 0).
func parseSnowflake(s string) uint64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ParseSnowflakeList converts a comma-separated list of snowflakes to
// numeric IDs, skipping empty and malformed entries.
func ParseSnowflakeList(csv string) []uint64 {
	var ids []uint64
	for _, s := range strings.Split(csv, ",") {
		if id := parseSnowflake(strings.TrimSpace(s)); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// chunkMessage splits s into pieces of at most limit bytes, preferring to
// break on a newline, then a space, so Discord messages don't cut words
// mid-way. The result is never empty for non-empty input.
func chunkMessage(s string, limit int) []string {
	if limit <= 0 || len(s) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(s) > limit {
		cut := limit
		if i := strings.LastIndex(s[:limit], "\n"); i > 0 {
			cut = i
		} else if i := strings.LastIndex(s[:limit], " "); i > 0 {
			cut = i
		} else if i := runeSafeCut(s, limit); i > 0 {
			cut = i
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimLeft(s[cut:], "\n ")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// runeSafeCut returns the largest index <= limit that does not split a
// multi-byte UTF-8 sequence. Callers must ensure limit < len(s).
func runeSafeCut(s string, limit int) int {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return limit
}
