package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

func TestClassifyError_Codes(t *testing.T) {
	tests := []struct {
		code     string
		expected ErrorKind
	}{
		{"ConditionalCheckFailedException", NotFound},
		{"ResourceNotFoundException", NotFound},
		{"ProvisionedThroughputExceededException", ResourceExhausted},
		{"RequestLimitExceeded", ResourceExhausted},
		{"ThrottlingException", ResourceExhausted},
		{"TransactionCanceledException", TransactionFailed},
		{"TransactionConflictException", TransactionFailed},
		{"ValidationException", InvalidArgument},
		{"InternalServerError", Unknown},
		{"SomethingNew", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyError("op", &smithy.GenericAPIError{Code: tt.code, Message: "boom"})
			if got := KindOf(err); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestClassifyError_Idempotent(t *testing.T) {
	first := classifyError("op", &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})
	second := classifyError("other", first)
	if second != first {
		t.Errorf("expected classified error to be returned unchanged, got %v", second)
	}

	wrapped := classifyError("outer", fmt.Errorf("context: %w", first))
	if KindOf(wrapped) != ResourceExhausted {
		t.Errorf("expected ResourceExhausted through wrapping, got %s", KindOf(wrapped))
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if err := classifyError("op", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := classifyWriteError("op", Put, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestClassifyError_Context(t *testing.T) {
	err := classifyError("op", context.Canceled)
	if KindOf(err) != Unknown {
		t.Errorf("expected Unknown, got %s", KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled to remain visible")
	}
}

func TestClassifyWriteError_ByActionKind(t *testing.T) {
	cond := &types.ConditionalCheckFailedException{Message: aws.String("failed")}

	tests := []struct {
		kind     ActionKind
		expected error
	}{
		{Create, ErrAlreadyExists},
		{Replace, ErrNotFound},
		{Update, ErrNotFound},
		{Put, ErrNotFound},
		{Delete, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := classifyWriteError("write", tt.kind, cond)
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
			var raw *types.ConditionalCheckFailedException
			if !errors.As(err, &raw) {
				t.Error("expected the provider error to remain reachable")
			}
		})
	}
}

func TestError_IsMatchesOnlyItsKind(t *testing.T) {
	err := newError(NotFound, "get", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Error("expected errors.Is(err, ErrAlreadyExists) to be false")
	}
	if err.Error() != "docstore: get: ResourceNotFound: missing" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestActionError_Unwraps(t *testing.T) {
	inner := newError(AlreadyExists, "write", "exists")
	err := error(&ActionError{Index: 3, Kind: Create, Err: inner})

	if !errors.Is(err, ErrAlreadyExists) {
		t.Error("expected errors.Is through ActionError")
	}
	if KindOf(err) != AlreadyExists {
		t.Errorf("expected AlreadyExists, got %s", KindOf(err))
	}
	var ae *ActionError
	if !errors.As(err, &ae) || ae.Index != 3 {
		t.Errorf("expected ActionError with index 3, got %v", err)
	}
}

func TestKindOf_Sentinels(t *testing.T) {
	if KindOf(fmt.Errorf("x: %w", ErrClosed)) != Closed {
		t.Error("expected Closed for wrapped ErrClosed")
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("expected Unknown for an unclassified error")
	}
}

func TestIsThrottlingError(t *testing.T) {
	if !IsThrottlingError(&smithy.GenericAPIError{Code: "ThrottlingException"}) {
		t.Error("expected ThrottlingException to be throttling")
	}
	if IsThrottlingError(&smithy.GenericAPIError{Code: "ValidationException"}) {
		t.Error("expected ValidationException not to be throttling")
	}
}

func TestTransactionFailure(t *testing.T) {
	err := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("None")},
		{Code: aws.String("ConditionalCheckFailed")},
	}}
	if got := transactionFailure(err); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := transactionFailure(errors.New("other")); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
	if KindOf(transactionError(err)) != TransactionFailed {
		t.Errorf("expected TransactionFailed, got %s", KindOf(transactionError(err)))
	}
}
