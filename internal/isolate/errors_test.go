package isolate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"kind and detail",
			&Error{Kind: KindCompile, Detail: "unexpected token"},
			"[compile] unexpected token",
		},
		{
			"termination reason",
			&Error{Kind: KindResourceTermination, Reason: ReasonTime, Detail: "killed"},
			"[resource_termination/time] killed",
		},
		{
			"wrapped cause",
			&Error{Kind: KindGuestException, Detail: "it broke", Cause: fmt.Errorf("inner")},
			"[guest_exception] it broke (caused by: inner)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindResourceTermination, Reason: ReasonMemory}

	assert.True(t, errors.Is(err, &Error{Kind: KindResourceTermination}))
	assert.True(t, errors.Is(err, &Error{Kind: KindResourceTermination, Reason: ReasonMemory}))
	assert.False(t, errors.Is(err, &Error{Kind: KindResourceTermination, Reason: ReasonTime}))
	assert.False(t, errors.Is(err, &Error{Kind: KindGuestException}))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := wrapErr(KindGuestException, inner, "wrapped")
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, inner, errors.Unwrap(err))
}
