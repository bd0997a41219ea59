package voxtally

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// monthKey returns the calendar-month key ("YYYY-MM") for the given
// wall-clock time. Keys are always derived at write time, never
// retroactively reassigned.
func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// previousMonthKey returns the month key for the month preceding the
// given time's month (ex: any day in 2025-05 yields "2025-04").
func previousMonthKey(t time.Time) string {
	firstOfMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return monthKey(firstOfMonth.AddDate(0, 0, -1))
}

// humanMonth renders a month key as "January 2006" for display.
func humanMonth(key string) (string, error) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return "", fmt.Errorf("invalid month key %q: %w", key, err)
	}
	return t.Format("January 2006"), nil
}

// humanDate renders a date key ("2006-01-02") as "January 2, 2006" for
// display.
func humanDate(key string) (string, error) {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", key, err)
	}
	return t.Format("January 2, 2006"), nil
}

// pluralMinutes renders a minute count with the appropriate unit
// ("1 minute", "2 minutes").
func pluralMinutes(minutes int64) string {
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	var ctxLogger *slog.Logger
	if logger == nil {
		ctxLogger = slog.Default()
	} else {
		ctxLogger = logger
	}
	return context.WithValue(ctx, loggerContextKey, ctxLogger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// structToSlogValue converts struct fields to slog attributes, honoring
// `log` tag overrides (ex: redacting tokens) and skipping empty values.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" || fv.Len() == 0 {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}

	return slog.GroupValue(groupAttrs...)
}
