package model

import "time"

// AlertEvent is a generic alert record published by the monitoring server.
type AlertEvent struct {
	Level      Level     `json:"level"`
	ObjectID   int64     `json:"object_id"`
	ObjectName string    `json:"object_name"`
	ObjectType string    `json:"object_type"`
	Kind       EventKind `json:"kind,omitempty"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// ObjectEvent is an object lifecycle record (an agent registering itself).
type ObjectEvent struct {
	ObjectID   int64  `json:"object_id"`
	ObjectName string `json:"object_name"`
	ObjectType string `json:"object_type"`
	Version    string `json:"version"`
	Wakeup     int64  `json:"wakeup"`
	Alive      bool   `json:"alive"`
}

// TraceEvent is a completed service trace, carrying a non-zero ErrorCode
// when the traced request failed.
type TraceEvent struct {
	ObjectID  int64     `json:"object_id"`
	ServiceID int64     `json:"service_id"`
	ErrorCode int64     `json:"error_code"`
	ElapsedMS int64     `json:"elapsed_ms"`
	EndTime   time.Time `json:"end_time"`
}

// CounterEvent is a performance counter sample for a single object.
type CounterEvent struct {
	ObjectName string `json:"object_name"`
	ObjectID   int64  `json:"object_id"`
	Family     string `json:"family"`
	TimeType   string `json:"time_type"`
	GCTimeMS   int64  `json:"gc_time_ms"`
	HeapUsedMB int64  `json:"heap_used_mb"`
}

// Counter families and sample granularities published by the server.
const (
	FamilyJavaEE     = "javaee"
	TimeTypeRealtime = "realtime"
)
