package document

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValueEqualIsTypeExact(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same string", String("5"), String("5"), true},
		{"string vs number", String("5"), Number(5), false},
		{"numbers", Number(1.5), Number(1.5), true},
		{"bools", Bool(true), Bool(false), false},
		{"same instant other zone", Time(ts), Time(ts.In(time.FixedZone("x", 3600))), true},
		{"zero values", Value{}, Value{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueAccessors(t *testing.T) {
	if n, ok := Number(3).AsNumber(); !ok || n != 3 {
		t.Errorf("AsNumber = %v, %v", n, ok)
	}
	if _, ok := String("3").AsNumber(); ok {
		t.Error("string reported as number")
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Errorf("AsBool = %v, %v", b, ok)
	}
	ts := time.Unix(1700000000, 0)
	if got, ok := Time(ts).AsTime(); !ok || !got.Equal(ts) {
		t.Errorf("AsTime = %v, %v", got, ok)
	}
}

func TestMetadataSetReplacesInPlace(t *testing.T) {
	var m Metadata
	m.Set("chatId", String("c1"))
	m.Set("role", String("user"))
	m.Set("chatId", String("c2"))

	if m.Len() != 2 || m[0].Key != "chatId" {
		t.Fatalf("metadata = %+v", m)
	}
	if v, _ := m.Get("chatId"); !v.Equal(String("c2")) {
		t.Errorf("chatId = %v", v)
	}
}

func TestMetadataJSONKeepsOrder(t *testing.T) {
	var m Metadata
	m.Set("role", String("assistant"))
	m.Set("tokens", Number(42))
	m.Set("pinned", Bool(true))
	m.Set("editedAt", Time(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"role":"assistant","tokens":42,"pinned":true,"editedAt":{"$time":"2024-01-02T03:04:05Z"}}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	var back Metadata
	if err := json.Unmarshal([]byte(`{"z":1,"a":"x","m":false}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.Len() != 3 || back[0].Key != "z" || back[1].Key != "a" || back[2].Key != "m" {
		t.Errorf("unmarshal order = %+v", back)
	}
	if v, _ := back.Get("z"); !v.Equal(Number(1)) {
		t.Errorf("z = %v", v)
	}
}

func TestMetadataTimeRoundTrip(t *testing.T) {
	editedAt := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	var m Metadata
	m.Set("editedAt", Time(editedAt))
	m.Set("note", String("2024-01-02T03:04:05Z"))

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back Metadata
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Matches(m) || !m.Matches(back) {
		t.Errorf("round trip changed metadata: %s -> %+v", data, back)
	}
	if v, _ := back.Get("editedAt"); v.Type() != TypeTime {
		t.Errorf("editedAt decoded as %s", v.Type())
	}
	if v, _ := back.Get("note"); v.Type() != TypeString {
		t.Errorf("timestamp-shaped string decoded as %s", v.Type())
	}

	var v Value
	if err := json.Unmarshal([]byte(`{"$time":"2024-03-01T12:00:00+01:00"}`), &v); err != nil {
		t.Fatal(err)
	}
	if got, ok := v.AsTime(); !ok || !got.Equal(time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("AsTime = %v, %v", got, ok)
	}
}

func TestMetadataUnmarshalRejectsNested(t *testing.T) {
	for _, in := range []string{
		`{"a":{"b":1}}`,
		`{"a":[1]}`,
		`[1,2]`,
		`{"a":null}`,
		`{"a":{"$time":"yesterday"}}`,
		`{"a":{"$time":"2024-01-01T00:00:00Z","b":1}}`,
	} {
		var m Metadata
		if err := json.Unmarshal([]byte(in), &m); err == nil {
			t.Errorf("%s: expected error", in)
		}
	}
}

func TestMetadataMatches(t *testing.T) {
	var doc Metadata
	doc.Set("role", String("user"))
	doc.Set("turn", Number(3))

	var want Metadata
	want.Set("turn", Number(3))
	if !doc.Matches(want) {
		t.Error("expected match")
	}
	want.Set("role", String("assistant"))
	if doc.Matches(want) {
		t.Error("mismatched role matched")
	}

	var missing Metadata
	missing.Set("chatId", String("c1"))
	if doc.Matches(missing) {
		t.Error("missing key matched")
	}
}

func TestDocumentClone(t *testing.T) {
	d := Document{ID: "m1", Kind: KindMessage}
	d.Metadata.Set("role", String("user"))
	c := d.Clone()
	c.Metadata.Set("role", String("assistant"))
	if v, _ := d.Metadata.Get("role"); !v.Equal(String("user")) {
		t.Errorf("clone aliased metadata: %v", v)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("chat"); err != nil || k != KindChat {
		t.Errorf("ParseKind(chat) = %q, %v", k, err)
	}
	if _, err := ParseKind("thread"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
