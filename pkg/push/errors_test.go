package push_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func TestErrorKindPropagation(t *testing.T) {
	base := errors.New("connection reset")
	typed := push.WrapError(push.ErrKindTransportFailure, "dispatch failed", base)

	t.Run("KindOf unwraps through fmt.Errorf", func(t *testing.T) {
		wrapped := fmt.Errorf("sending to device-1: %w", typed)
		assert.Equal(t, push.ErrKindTransportFailure, push.KindOf(wrapped))
		assert.True(t, push.IsKind(wrapped, push.ErrKindTransportFailure))
		assert.False(t, push.IsKind(wrapped, push.ErrKindAuthFailure))
	})

	t.Run("Untyped errors classify as unknown", func(t *testing.T) {
		assert.Equal(t, push.ErrKindUnknown, push.KindOf(base))
		assert.False(t, push.IsKind(base, push.ErrKindUnknown))
	})

	t.Run("Unwrap exposes the cause", func(t *testing.T) {
		assert.ErrorIs(t, typed, base)
	})

	t.Run("StatusOf surfaces the upstream status", func(t *testing.T) {
		withStatus := &push.Error{
			Kind:       push.ErrKindAuthFailure,
			StatusCode: 401,
			Message:    "token rejected",
		}
		assert.Equal(t, 401, push.StatusOf(withStatus))
		assert.Equal(t, 0, push.StatusOf(base))
	})
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "token rejected", push.NewError(push.ErrKindAuthFailure, "token rejected").Error())

	wrapped := push.WrapError(push.ErrKindSigning, "cannot sign claims", errors.New("bad key"))
	assert.Equal(t, "cannot sign claims: bad key", wrapped.Error())

	kindOnly := &push.Error{Kind: push.ErrKindRateLimited}
	assert.Equal(t, "rate_limited", kindOnly.Error())
}
