package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/config"
	"swiftdrop/internal/microservices/delivery/service"
)

type stubDelivery struct {
	service.DeliveryServiceInterface
	calls atomic.Int32
	batch atomic.Int32
}

func (s *stubDelivery) ExpirePending(_ context.Context, batch int) (int, error) {
	s.calls.Add(1)
	s.batch.Store(int32(batch))
	return 2, nil
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	stub := &stubDelivery{}
	s := New(stub, config.DeliveryConfig{SweepInterval: 10 * time.Millisecond, SweepBatch: 25}, logger.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return stub.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
	assert.Equal(t, int32(25), stub.batch.Load())
}
