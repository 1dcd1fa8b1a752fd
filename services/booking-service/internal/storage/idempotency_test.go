package storage

import "testing"

func TestIdempotencyRecordReplayable(t *testing.T) {
	cases := []struct {
		name string
		rec  IdempotencyRecord
		want bool
	}{
		{"finalized response", IdempotencyRecord{StatusCode: 201, ResponsePayload: []byte(`{}`)}, true},
		{"claimed but never finalized", IdempotencyRecord{BusinessID: "biz-1", IdempotencyKey: "k1"}, false},
		{"race loser sees the winner's committed response", IdempotencyRecord{StatusCode: 201, AppointmentID: "appt-1"}, true},
	}
	for _, tc := range cases {
		if got := tc.rec.Replayable(); got != tc.want {
			t.Fatalf("%s: Replayable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
