package cursor

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("users", "by-email", false)
	b := Fingerprint("users", "by-email", false)
	if a != b {
		t.Errorf("expected same fingerprint, got %d and %d", a, b)
	}
}

func TestFingerprint_DistinguishesPlans(t *testing.T) {
	tests := []struct {
		name string
		a, b uint32
	}{
		{"scan vs query", Fingerprint("users", "", true), Fingerprint("users", "", false)},
		{"table vs index", Fingerprint("users", "", false), Fingerprint("users", "by-email", false)},
		{"different tables", Fingerprint("users", "", false), Fingerprint("orders", "", false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a == tt.b {
				t.Errorf("expected different fingerprints, both %d", tt.a)
			}
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	plan := Fingerprint("users", "", false)
	key := map[string]types.AttributeValue{
		"pk":  &types.AttributeValueMemberS{Value: "user#1"},
		"sk":  &types.AttributeValueMemberN{Value: "42"},
		"bin": &types.AttributeValueMemberB{Value: []byte{0x01, 0x02}},
	}

	tok, err := Encode(plan, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Decode(plan, tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s, ok := got["pk"].(*types.AttributeValueMemberS); !ok || s.Value != "user#1" {
		t.Errorf("expected pk 'user#1', got %#v", got["pk"])
	}
	if n, ok := got["sk"].(*types.AttributeValueMemberN); !ok || n.Value != "42" {
		t.Errorf("expected sk N '42', got %#v", got["sk"])
	}
	if b, ok := got["bin"].(*types.AttributeValueMemberB); !ok || len(b.Value) != 2 || b.Value[1] != 0x02 {
		t.Errorf("expected bin [1 2], got %#v", got["bin"])
	}
}

func TestDecode_Mismatch(t *testing.T) {
	tok, err := Encode(Fingerprint("users", "", true), map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "a"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Decode(Fingerprint("users", "", false), tok); err != ErrMismatch {
		t.Errorf("expected ErrMismatch, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, tok := range []string{"", "!!!", "bm90LWpzb24"} {
		if _, err := Decode(1, tok); err != ErrMalformed {
			t.Errorf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestEncode_UnsupportedType(t *testing.T) {
	_, err := Encode(1, map[string]types.AttributeValue{
		"flag": &types.AttributeValueMemberBOOL{Value: true},
	})
	if err == nil {
		t.Error("expected error for BOOL key attribute")
	}
}
