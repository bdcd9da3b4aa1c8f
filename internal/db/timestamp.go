package db

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Legacy writers stored the same logical timestamp field in three wire
// shapes: the server-assigned marker (primitive.DateTime), a structured
// seconds/ordinal timestamp (primitive.Timestamp), or an RFC3339 string.
// The driver's codecs absorb these on typed decodes; raw bson.M decodes,
// as in the legacy migration scan, coerce through NormalizeTime instead.
func NormalizeTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case primitive.DateTime:
		return t.Time(), true
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	case int64:
		return time.UnixMilli(t), true
	default:
		return time.Time{}, false
	}
}
