package decode

import "testing"

type readPayload struct {
	LastRead int64  `json:"last_read_message_id"`
	Typing   bool   `json:"is_typing"`
	Text     string `json:"text"`
}

func TestDecodeMapWeakTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want readPayload
	}{
		{"numbers", `{"last_read_message_id": 42, "is_typing": true, "text": "hi"}`, readPayload{42, true, "hi"}},
		{"stringly", `{"last_read_message_id": "42", "is_typing": "false"}`, readPayload{42, false, ""}},
		{"big id", `{"last_read_message_id": 9007199254740993}`, readPayload{LastRead: 9007199254740993}},
		{"missing", `{}`, readPayload{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Object([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Object: %v", err)
			}
			got, err := DecodeMap[readPayload](m)
			if err != nil {
				t.Fatalf("DecodeMap: %v", err)
			}
			if *got != tc.want {
				t.Fatalf("got %+v, want %+v", *got, tc.want)
			}
		})
	}
}

func TestDecodeMapRejectsFraction(t *testing.T) {
	m, err := Object([]byte(`{"last_read_message_id": 1.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeMap[readPayload](m); err == nil {
		t.Fatal("expected error for fractional id")
	}
}

func TestObjectRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[]`, `null`, `"x"`, `{`} {
		if _, err := Object([]byte(raw)); err == nil {
			t.Errorf("Object(%s) should fail", raw)
		}
	}
}
