package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/engine/trigger"
	"github.com/stretchr/testify/mock"
)

// MockVerifier implements Verifier for testing
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, r *http.Request, body []byte) error {
	args := m.Called(ctx, r, body)
	return args.Error(0)
}

// MockDispatcher implements Dispatcher for testing
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(
	ctx context.Context,
	triggerType core.TriggerType,
	key string,
	ownerID string,
	payload map[string]any,
) (*trigger.Dispatch, error) {
	args := m.Called(ctx, triggerType, key, ownerID, payload)
	d, _ := args.Get(0).(*trigger.Dispatch)
	return d, args.Error(1)
}

func (m *MockDispatcher) Active(ctx context.Context, key string, ownerID string) (int, error) {
	args := m.Called(ctx, key, ownerID)
	return args.Int(0), args.Error(1)
}

// MockIdempotency implements Service for testing
type MockIdempotency struct {
	mock.Mock
}

func (m *MockIdempotency) CheckAndSet(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *MockIdempotency) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
