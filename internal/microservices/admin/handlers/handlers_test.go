package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"swiftdrop/internal/domain"
	deliveryservice "swiftdrop/internal/microservices/delivery/service"
	escrowservice "swiftdrop/internal/microservices/escrow/service"
)

type stubEscrow struct {
	escrowservice.EscrowServiceInterface
	resolve func(ctx context.Context, escrowID string, req domain.ResolveDisputeRequest, actor string) (domain.EscrowTransaction, error)
}

func (s *stubEscrow) Resolve(ctx context.Context, escrowID string, req domain.ResolveDisputeRequest, actor string) (domain.EscrowTransaction, error) {
	return s.resolve(ctx, escrowID, req, actor)
}

type stubDelivery struct {
	deliveryservice.DeliveryServiceInterface
	cancel func(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error)
}

func (s *stubDelivery) Cancel(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error) {
	return s.cancel(ctx, requestID, actor, reason)
}

func newMux(esc *stubEscrow, del *stubDelivery) *http.ServeMux {
	h := New(esc, del)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/admin/escrows/{id}/resolve", h.ResolveDispute)
	mux.HandleFunc("POST /api/v1/admin/deliveries/{id}/cancel", h.CancelDelivery)
	return mux
}

func TestResolveRequiresAdminRole(t *testing.T) {
	mux := newMux(&stubEscrow{}, &stubDelivery{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/escrows/esc-1/resolve", strings.NewReader(`{}`))
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/escrows/esc-1/resolve", strings.NewReader(`{}`))
	req.Header.Set("X-User-ID", "user-1")
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResolveDispute(t *testing.T) {
	esc := &stubEscrow{
		resolve: func(_ context.Context, escrowID string, req domain.ResolveDisputeRequest, actor string) (domain.EscrowTransaction, error) {
			assert.Equal(t, "esc-1", escrowID)
			assert.Equal(t, domain.ResolveRefund, req.Action)
			assert.Equal(t, "admin-1", actor)
			return domain.EscrowTransaction{ID: escrowID, Status: domain.EscrowRefunded}, nil
		},
	}
	mux := newMux(esc, &stubDelivery{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/escrows/esc-1/resolve",
		strings.NewReader(`{"action":"refund","notes":"buyer wins"}`))
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Role", "admin")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "REFUNDED")
}

func TestCancelDelivery(t *testing.T) {
	del := &stubDelivery{
		cancel: func(_ context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error) {
			assert.Equal(t, "del-1", requestID)
			assert.Equal(t, "admin-1", actor)
			assert.Equal(t, "fraudulent order", reason)
			return domain.DeliveryRequest{ID: requestID, Status: domain.DeliveryCancelled}, nil
		},
	}
	mux := newMux(&stubEscrow{}, del)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/deliveries/del-1/cancel",
		strings.NewReader(`{"reason":"fraudulent order"}`))
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Role", "admin")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CANCELLED")
}
