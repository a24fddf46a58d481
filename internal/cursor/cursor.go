// Package cursor encodes DynamoDB exclusive start keys as opaque
// pagination tokens bound to the table or index they were read from.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = errors.New("cursor: malformed pagination token")

	// ErrMismatch is returned when a token was produced by a different
	// table, index or access path.
	ErrMismatch = errors.New("cursor: pagination token belongs to a different query plan")
)

// Fingerprint identifies the access path a token belongs to.
// With scan=true the token can only resume a scan, and vice versa.
func Fingerprint(table, index string, scan bool) uint32 {
	h := fnv.New32a()
	mode := "query"
	if scan {
		mode = "scan"
	}
	h.Write([]byte(fmt.Sprintf("%s#%s#%s", table, index, mode)))
	return h.Sum32()
}

type attr struct {
	S *string `json:"s,omitempty"`
	N *string `json:"n,omitempty"`
	B []byte  `json:"b,omitempty"`
}

type token struct {
	Plan uint32          `json:"p"`
	Key  map[string]attr `json:"k"`
}

// Encode returns a token for key. Only S, N and B attributes (the types
// DynamoDB allows in keys) are supported.
func Encode(plan uint32, key map[string]types.AttributeValue) (string, error) {
	t := token{Plan: plan, Key: make(map[string]attr, len(key))}
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			s := v.Value
			t.Key[name] = attr{S: &s}
		case *types.AttributeValueMemberN:
			n := v.Value
			t.Key[name] = attr{N: &n}
		case *types.AttributeValueMemberB:
			t.Key[name] = attr{B: v.Value}
		default:
			return "", fmt.Errorf("cursor: unsupported key attribute type %T for %q", av, name)
		}
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("cursor: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a token produced by Encode and checks it belongs to plan.
func Decode(plan uint32, s string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrMalformed
	}
	var t token
	if err := json.Unmarshal(raw, &t); err != nil || len(t.Key) == 0 {
		return nil, ErrMalformed
	}
	if t.Plan != plan {
		return nil, ErrMismatch
	}
	key := make(map[string]types.AttributeValue, len(t.Key))
	for name, a := range t.Key {
		switch {
		case a.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *a.S}
		case a.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *a.N}
		case a.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: a.B}
		default:
			return nil, ErrMalformed
		}
	}
	return key, nil
}
