package deposit

import (
	"errors"
	"fmt"
	"testing"

	"dework/native/common"
	"dework/native/pool"
	"dework/native/token"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{ErrInvalidAmount, KindValidation},
		{fmt.Errorf("wrapped: %w", ErrMetadataTooLong), KindValidation},
		{token.ErrInsufficientAllowance, KindValidation},
		{fmt.Errorf("%w: 7", ErrPositionNotFound), KindNotFound},
		{ErrUnauthorized, KindAuthorization},
		{ErrNotVerified, KindAuthorization},
		{ErrLeaseNotEnded, KindTiming},
		{ErrReleaseNotReached, KindTiming},
		{ErrDisputeWindowClosed, KindTiming},
		{ErrNotActive, KindConflict},
		{ErrInDispute, KindConflict},
		{ErrReentrantCall, KindConflict},
		{common.ErrModulePaused, KindConflict},
		{pool.ErrDrained, KindConflict},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
