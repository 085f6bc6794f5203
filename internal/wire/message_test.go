package wire

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	msg := SyncMessage{Key: "FOO", Value: "bar", Timestamp: 42, Origin: "peer-a", Deleted: false}

	data, err := Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != msg {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}

func TestUnmarshalMalformedReturnsSerializationError(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestLessOrdersByTimestampThenOrigin(t *testing.T) {
	older := SyncMessage{Key: "K", Timestamp: 1, Origin: "a"}
	newer := SyncMessage{Key: "K", Timestamp: 2, Origin: "a"}
	if !older.Less(newer) {
		t.Error("expected older.Less(newer) to be true")
	}
	if newer.Less(older) {
		t.Error("expected newer.Less(older) to be false")
	}

	tieLow := SyncMessage{Key: "K", Timestamp: 5, Origin: "a"}
	tieHigh := SyncMessage{Key: "K", Timestamp: 5, Origin: "b"}
	if !tieLow.Less(tieHigh) {
		t.Error("expected tie to break on origin ascending")
	}
}
