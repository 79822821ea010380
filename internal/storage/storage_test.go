package storage

import (
	"errors"
	"strings"
	"testing"

	"pkt.systems/guestbookd/api"
)

func TestEncodeDocumentShape(t *testing.T) {
	payload, err := EncodeDocument([]api.Entry{{ID: "a", Name: "Ada", Message: "hi", Stars: 5, TS: 1}})
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	text := string(payload)
	if !strings.HasSuffix(text, "\n") {
		t.Error("document missing trailing newline")
	}
	if !strings.Contains(text, "  \"id\": \"a\"") {
		t.Errorf("document not two-space indented:\n%s", text)
	}
}

func TestEncodeDocumentNilIsEmptyArray(t *testing.T) {
	payload, err := EncodeDocument(nil)
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	if got := strings.TrimSpace(string(payload)); got != "[]" {
		t.Errorf("nil entries encoded as %q, want []", got)
	}
}

func TestDecodeDocumentRoundTrip(t *testing.T) {
	in := []api.Entry{
		{ID: "a", Name: "Ada", Message: "hi\nthere", Rule: "rinse", Stars: 4, TS: 100},
		{ID: "b", Name: "Grace", Message: "beans", Stars: 5, TS: 200},
	}
	payload, err := EncodeDocument(in)
	if err != nil {
		t.Fatalf("EncodeDocument: %v", err)
	}
	out, err := DecodeDocument(payload)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d entries, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("entry %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestDecodeDocumentCorrupt(t *testing.T) {
	for _, payload := range []string{"{not json", `{"entries": []}`, "42"} {
		_, err := DecodeDocument([]byte(payload))
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("DecodeDocument(%q) err = %v, want ErrCorrupt", payload, err)
		}
	}
}

func TestDecodeDocumentNullIsEmpty(t *testing.T) {
	entries, err := DecodeDocument([]byte("null"))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("got %v, want empty non-nil slice", entries)
	}
}
