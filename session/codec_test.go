package session_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bluescreen10/cqlsession/session"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := session.JSONCodec{}
	rec := &session.Record{
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Values:    map[string]any{"b": "two", "a": float64(1)},
	}
	rec.Cookie.WithMaxAge(90 * time.Second)

	data, err := codec.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}

	again, err := codec.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(again) {
		t.Fatalf("expected deterministic output got '%s' and '%s'", data, again)
	}

	got, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if *got.Cookie.MaxAge != 90000 {
		t.Fatalf("expected '90000' got '%d'", *got.Cookie.MaxAge)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("expected '%s' got '%s'", rec.CreatedAt, got.CreatedAt)
	}
	if got.Values["a"] != json.Number("1") || got.Values["b"] != "two" {
		t.Fatalf("unexpected values '%v'", got.Values)
	}
}

func TestJSONCodecMalformed(t *testing.T) {
	for _, input := range []string{"", "{", "not json", `{"values": 3}`, `{} {}`, `{"values":{}}}`, `{}]`, `{} x`} {
		_, err := session.JSONCodec{}.Decode([]byte(input))
		if !errors.Is(err, session.ErrMalformed) {
			t.Fatalf("input %q: expected malformed error got '%v'", input, err)
		}
	}
}

func TestJSONCodecNilRecord(t *testing.T) {
	if _, err := (session.JSONCodec{}).Encode(nil); err == nil {
		t.Fatal("expected error but got none")
	}
}

func TestJSONCodecNull(t *testing.T) {
	for _, input := range []string{"null", " null\n"} {
		rec, err := session.JSONCodec{}.Decode([]byte(input))
		if err != nil {
			t.Fatalf("input %q: unexpected error '%v'", input, err)
		}
		if rec != nil {
			t.Fatalf("input %q: expected 'nil' got '%v'", input, rec)
		}
	}
}

func TestJSONCodecTrailingWhitespace(t *testing.T) {
	if _, err := (session.JSONCodec{}).Decode([]byte("{}\n\t ")); err != nil {
		t.Fatal(err)
	}
}

func TestJSONCodecLargeIntegers(t *testing.T) {
	codec := session.JSONCodec{}
	data, err := codec.Encode(&session.Record{Values: map[string]any{"uid": int64(9007199254740993)}})
	if err != nil {
		t.Fatal(err)
	}

	got, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if v := got.Values["uid"]; v != json.Number("9007199254740993") {
		t.Fatalf("expected '9007199254740993' got '%v'", v)
	}
}
