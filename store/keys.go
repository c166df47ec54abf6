package store

import (
	"fmt"
	"strings"
	"time"
)

// Namespace is one logical keyspace inside the backing store.
type Namespace string

const (
	NamespaceDedup Namespace = "dedup"
	NamespaceCache Namespace = "cache"
	NamespaceUsage Namespace = "usage"
	NamespaceAlert Namespace = "alert"
)

// KeyNamespace returns the namespace segment of a key built as prefix:ns:suffix,
// or "" when key does not have that shape.
func KeyNamespace(key string) Namespace {
	_, rest, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	ns, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return Namespace(ns)
}

// CounterScope identifies which usage window a counter tracks.
type CounterScope string

const (
	ScopeDaily       CounterScope = "daily"
	ScopeHourly      CounterScope = "hourly"
	ScopeCallerDaily CounterScope = "caller"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// Window lengths; counters and alert flags expire after one window.
const (
	Day  = 24 * time.Hour
	Hour = time.Hour
)

// CounterKey addresses one usage counter window.
type CounterKey struct {
	Scope    CounterScope
	WindowID string
}

func (k CounterKey) String() string {
	return string(k.Scope) + ":" + k.WindowID
}

// DayWindow returns the calendar-day window id of t.
func DayWindow(t time.Time) string {
	return t.Format(dayLayout)
}

// HourWindow returns the calendar-hour window id of t.
func HourWindow(t time.Time) string {
	return t.Format(hourLayout)
}

// CallerDayWindow returns the per-caller daily window id.
func CallerDayWindow(t time.Time, callerID string) string {
	return fmt.Sprintf("%s:%s", t.Format(dayLayout), callerID)
}

// DailyCounter returns the global daily counter key for t.
func DailyCounter(t time.Time) CounterKey {
	return CounterKey{Scope: ScopeDaily, WindowID: DayWindow(t)}
}

// HourlyCounter returns the global hourly counter key for t.
func HourlyCounter(t time.Time) CounterKey {
	return CounterKey{Scope: ScopeHourly, WindowID: HourWindow(t)}
}

// CallerDailyCounter returns the per-caller daily counter key for t.
func CallerDailyCounter(t time.Time, callerID string) CounterKey {
	return CounterKey{Scope: ScopeCallerDaily, WindowID: CallerDayWindow(t, callerID)}
}
