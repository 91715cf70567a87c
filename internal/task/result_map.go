package task

import (
	"fmt"
	"time"
)

// Map field names. "interrupted" was historically stored as
// "was_interrupted"; reading accepts either so older persisted records keep
// round-tripping.
const (
	fieldTaskID         = "task_id"
	fieldSuccess        = "success"
	fieldItemsFound     = "items_found"
	fieldItemsCleaned   = "items_cleaned"
	fieldBytesFreed     = "bytes_freed"
	fieldErrors         = "errors"
	fieldInterrupted    = "interrupted"
	fieldWasInterrupted = "was_interrupted"
	fieldNextRun        = "next_run"
	fieldExecutedAt     = "executed_at"
	fieldElapsed        = "elapsed_time"
)

// ToMap renders the result as a plain key/value map for transport and
// storage. Timestamps are RFC3339; elapsed_time is float seconds.
func (r Result) ToMap() map[string]any {
	m := map[string]any{
		fieldTaskID:       r.TaskID,
		fieldSuccess:      r.Success,
		fieldItemsFound:   r.ItemsFound,
		fieldItemsCleaned: r.ItemsCleaned,
		fieldBytesFreed:   r.BytesFreed,
		fieldErrors:       copyErrors(r.Errors),
		fieldInterrupted:  r.Interrupted,
		fieldElapsed:      r.Elapsed.Seconds(),
	}
	if !r.NextRun.IsZero() {
		m[fieldNextRun] = r.NextRun.Format(time.RFC3339)
	}
	if !r.ExecutedAt.IsZero() {
		m[fieldExecutedAt] = r.ExecutedAt.Format(time.RFC3339)
	}
	return m
}

// FromMap rebuilds a Result from a stored map.
//
// Backward compatibility: "was_interrupted" is honored when "interrupted" is
// absent, and a missing items_found falls back to items_cleaned (older
// records only tracked the cleaned count).
func FromMap(m map[string]any) Result {
	r := Result{Errors: map[string]string{}}
	if m == nil {
		return r
	}
	r.TaskID = asString(m[fieldTaskID])
	r.Success = asBool(m[fieldSuccess])

	cleaned, _ := asInt(m[fieldItemsCleaned])
	r.ItemsCleaned = cleaned
	if found, ok := asInt(m[fieldItemsFound]); ok {
		r.ItemsFound = found
	} else {
		r.ItemsFound = cleaned
	}
	if b, ok := asInt(m[fieldBytesFreed]); ok {
		r.BytesFreed = int64(b)
	}

	if v, ok := m[fieldInterrupted]; ok {
		r.Interrupted = asBool(v)
	} else {
		r.Interrupted = asBool(m[fieldWasInterrupted])
	}

	if errs, ok := m[fieldErrors]; ok {
		r.Errors = asErrors(errs)
	}
	if t, ok := asTime(m[fieldNextRun]); ok {
		r.NextRun = t
	}
	if t, ok := asTime(m[fieldExecutedAt]); ok {
		r.ExecutedAt = t
	}
	if secs, ok := asFloat(m[fieldElapsed]); ok && secs > 0 {
		r.Elapsed = time.Duration(secs * float64(time.Second))
	}
	return r
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// asErrors tolerates both a typed map and the map[string]any a JSON
// round-trip produces.
func asErrors(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return copyErrors(m)
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out
	default:
		return map[string]string{}
	}
}
