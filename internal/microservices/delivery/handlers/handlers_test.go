package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swiftdrop/internal/domain"
	"swiftdrop/internal/microservices/delivery/service"
)

// stubService embeds the interface so each test overrides only the
// methods its route touches.
type stubService struct {
	service.DeliveryServiceInterface
	request      func(ctx context.Context, req domain.CreateDeliveryRequest, merchantID string) (domain.DeliveryRequest, error)
	accept       func(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error)
	updateStatus func(ctx context.Context, requestID, driverID string, req domain.UpdateDeliveryStatusRequest) (domain.DeliveryRequest, error)
	listByDriver func(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error)
}

func (s *stubService) Request(ctx context.Context, req domain.CreateDeliveryRequest, merchantID string) (domain.DeliveryRequest, error) {
	return s.request(ctx, req, merchantID)
}

func (s *stubService) Accept(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error) {
	return s.accept(ctx, requestID, driverID)
}

func (s *stubService) UpdateStatus(ctx context.Context, requestID, driverID string, req domain.UpdateDeliveryStatusRequest) (domain.DeliveryRequest, error) {
	return s.updateStatus(ctx, requestID, driverID, req)
}

func (s *stubService) ListByDriver(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error) {
	return s.listByDriver(ctx, driverID, limit, offset)
}

func newMux(s service.DeliveryServiceInterface) *http.ServeMux {
	h := New(s)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/deliveries", h.Create)
	mux.HandleFunc("POST /api/v1/deliveries/{id}/accept", h.Accept)
	mux.HandleFunc("POST /api/v1/deliveries/{id}/status", h.UpdateStatus)
	mux.HandleFunc("GET /api/v1/deliveries", h.List)
	return mux
}

func TestCreateRequiresIdentity(t *testing.T) {
	mux := newMux(&stubService{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries", strings.NewReader(`{}`))

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreate(t *testing.T) {
	stub := &stubService{
		request: func(_ context.Context, req domain.CreateDeliveryRequest, merchantID string) (domain.DeliveryRequest, error) {
			assert.Equal(t, "merchant-1", merchantID)
			assert.Equal(t, "order-1", req.OrderID)
			return domain.DeliveryRequest{ID: "del-1", Status: domain.DeliveryPending}, nil
		},
	}
	mux := newMux(stub)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries", strings.NewReader(
		`{"order_id":"order-1","customer_id":"c1","pickup_address":"a","delivery_address":"b","delivery_fee":1500}`))
	req.Header.Set("X-User-ID", "merchant-1")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"del-1"`)
}

func TestCreateBadJSON(t *testing.T) {
	mux := newMux(&stubService{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries", strings.NewReader(`{`))
	req.Header.Set("X-User-ID", "merchant-1")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptConflict(t *testing.T) {
	stub := &stubService{
		accept: func(_ context.Context, requestID, driverID string) (domain.DeliveryRequest, error) {
			assert.Equal(t, "del-1", requestID)
			assert.Equal(t, "driver-2", driverID)
			return domain.DeliveryRequest{}, fmt.Errorf("%w: taken", domain.ErrAlreadyAssigned)
		},
	}
	mux := newMux(stub)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries/del-1/accept", nil)
	req.Header.Set("X-User-ID", "driver-2")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_assigned")
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	stub := &stubService{
		updateStatus: func(context.Context, string, string, domain.UpdateDeliveryStatusRequest) (domain.DeliveryRequest, error) {
			return domain.DeliveryRequest{}, fmt.Errorf("%w: ACCEPTED -> DELIVERED", domain.ErrInvalidTransition)
		},
	}
	mux := newMux(stub)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deliveries/del-1/status", strings.NewReader(`{"status":"DELIVERED"}`))
	req.Header.Set("X-User-ID", "driver-1")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListRequiresFilter(t *testing.T) {
	mux := newMux(&stubService{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries", nil)
	req.Header.Set("X-User-ID", "user-1")

	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListByDriver(t *testing.T) {
	stub := &stubService{
		listByDriver: func(_ context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error) {
			assert.Equal(t, "driver-1", driverID)
			assert.Equal(t, 10, limit)
			return []domain.DeliveryRequest{{ID: "del-1"}}, nil
		},
	}
	mux := newMux(stub)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries?driver_id=driver-1&limit=10", nil)
	req.Header.Set("X-User-ID", "driver-1")

	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deliveries"`)
}
