package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upper(_ context.Context, req string) (string, error) {
	return req + "!", nil
}

func TestServiceFunc(t *testing.T) {
	svc := ServiceFunc[string, string](upper)
	resp, err := svc.Serve(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", resp)
}

func TestStackOrdering(t *testing.T) {
	var order []string

	trace := func(name string) Layer[string, string] {
		return LayerFunc[string, string](func(inner Service[string, string]) Service[string, string] {
			return ServiceFunc[string, string](func(ctx context.Context, req string) (string, error) {
				order = append(order, name)
				return inner.Serve(ctx, req)
			})
		})
	}

	stack := Stack(trace("outer"), trace("middle"), trace("inner"))
	svc := stack.Wrap(ServiceFunc[string, string](upper))

	resp, err := svc.Serve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x!", resp)
	assert.Equal(t, []string{"outer", "middle", "inner"}, order)
}

func TestReject(t *testing.T) {
	svc := Reject[string, string]()
	_, err := svc.Serve(context.Background(), "anything")
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestBoxService(t *testing.T) {
	boxed := Box[string, string](ServiceFunc[string, string](upper))

	resp, err := boxed.Serve(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", resp)

	_, err = boxed.Serve(context.Background(), 42)
	assert.Error(t, err)
}
