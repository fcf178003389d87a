package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/rama/pkg/service"
)

var errBoom = errors.New("boom")

func TestLayerRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	inner := service.ServiceFunc[string, string](func(_ context.Context, req string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errBoom
		}
		return "ok", nil
	})

	layer := Layer[string, string](ExponentialRetryPolicy(5, time.Millisecond), nil)
	svc := layer.Wrap(inner)

	resp, err := svc.Serve(context.Background(), "req")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 3, attempts)
}

func TestLayerExhaustsAndSurfacesLastError(t *testing.T) {
	inner := service.ServiceFunc[string, string](func(_ context.Context, req string) (string, error) {
		return "", errBoom
	})

	layer := Layer[string, string](ExponentialRetryPolicy(2, time.Millisecond), nil)
	svc := layer.Wrap(inner)

	_, err := svc.Serve(context.Background(), "req")
	require.Error(t, err)
	var exhausted *ErrExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, errBoom)
}

func TestLayerRespectsIsRetryable(t *testing.T) {
	attempts := 0
	inner := service.ServiceFunc[string, string](func(_ context.Context, req string) (string, error) {
		attempts++
		return "", errBoom
	})

	layer := Layer[string, string](ExponentialRetryPolicy(5, time.Millisecond), func(err error) bool {
		return false
	})
	svc := layer.Wrap(inner)

	_, err := svc.Serve(context.Background(), "req")
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}
