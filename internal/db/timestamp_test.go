package db

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalizeTime(t *testing.T) {
	ref := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		input interface{}
		want  time.Time
		ok    bool
	}{
		{"native time", ref, ref, true},
		{"pointer", &ref, ref, true},
		{"nil pointer", (*time.Time)(nil), time.Time{}, false},
		{"server datetime", primitive.NewDateTimeFromTime(ref), ref, true},
		{"structured timestamp", primitive.Timestamp{T: uint32(ref.Unix())}, time.Unix(ref.Unix(), 0), true},
		{"rfc3339 string", "2024-03-15T10:30:00Z", ref, true},
		{"millis", ref.UnixMilli(), ref, true},
		{"garbage string", "not a time", time.Time{}, false},
		{"unsupported type", 3.14, time.Time{}, false},
		{"nil", nil, time.Time{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeTime(tc.input)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && !got.Equal(tc.want) {
				t.Fatalf("time = %v, want %v", got, tc.want)
			}
		})
	}
}
