// Package api wires the HTTP service: repositories, services, handlers,
// routes and instrumentation.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swiftdrop/internal/common/httpx"
	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/config"
	"swiftdrop/internal/connections/rabbitmq"
	"swiftdrop/internal/gateway"
	adminhandlers "swiftdrop/internal/microservices/admin/handlers"
	deliveryhandlers "swiftdrop/internal/microservices/delivery/handlers"
	deliveryrepo "swiftdrop/internal/microservices/delivery/repository"
	deliveryservice "swiftdrop/internal/microservices/delivery/service"
	escrowhandlers "swiftdrop/internal/microservices/escrow/handlers"
	escrowrepo "swiftdrop/internal/microservices/escrow/repository"
	escrowservice "swiftdrop/internal/microservices/escrow/service"
	"swiftdrop/internal/realtime"
)

func Run(ctx context.Context, cfg config.Config, db *sql.DB, mq *rabbitmq.Client) error {
	lg := logger.New("api")
	pub := realtime.NewAMQPPublisher(mq, lg)
	gw := gateway.NewPaystackClient(cfg.Gateway)

	escrowSvc := escrowservice.New(escrowrepo.New(db), gw, pub, cfg.Escrow, lg)
	deliverySvc := deliveryservice.New(deliveryrepo.New(db), pub, cfg.Delivery, lg)

	escrowH := escrowhandlers.New(escrowSvc)
	deliveryH := deliveryhandlers.New(deliverySvc)
	adminH := adminhandlers.New(escrowSvc, deliverySvc)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/deliveries", metrics.InstrumentHandler("delivery_create", deliveryH.Create))
	mux.HandleFunc("POST /api/v1/deliveries/{id}/accept", metrics.InstrumentHandler("delivery_accept", deliveryH.Accept))
	mux.HandleFunc("POST /api/v1/deliveries/{id}/status", metrics.InstrumentHandler("delivery_status", deliveryH.UpdateStatus))
	mux.HandleFunc("POST /api/v1/deliveries/{id}/messages", metrics.InstrumentHandler("delivery_message", deliveryH.SendMessage))
	mux.HandleFunc("POST /api/v1/deliveries/{id}/emergency", metrics.InstrumentHandler("delivery_emergency", deliveryH.ReportEmergency))
	mux.HandleFunc("GET /api/v1/deliveries", metrics.InstrumentHandler("delivery_list", deliveryH.List))
	mux.HandleFunc("GET /api/v1/deliveries/{id}/timeline", metrics.InstrumentHandler("delivery_timeline", deliveryH.Timeline))

	mux.HandleFunc("POST /api/v1/payments/verify", metrics.InstrumentHandler("payment_verify", escrowH.VerifyPayment))
	mux.HandleFunc("POST /api/v1/escrows/{id}/dispute", metrics.InstrumentHandler("escrow_dispute", escrowH.Dispute))
	mux.HandleFunc("GET /api/v1/escrows", metrics.InstrumentHandler("escrow_list", escrowH.List))
	mux.HandleFunc("GET /api/v1/escrows/{id}", metrics.InstrumentHandler("escrow_get", escrowH.Get))

	mux.HandleFunc("POST /api/v1/admin/escrows/{id}/resolve", metrics.InstrumentHandler("admin_resolve", adminH.ResolveDispute))
	mux.HandleFunc("POST /api/v1/admin/escrows/{id}/release", metrics.InstrumentHandler("admin_release", adminH.Release))
	mux.HandleFunc("POST /api/v1/admin/escrows/{id}/escalate", metrics.InstrumentHandler("admin_escalate", adminH.Escalate))
	mux.HandleFunc("POST /api/v1/admin/deliveries/{id}/cancel", metrics.InstrumentHandler("admin_cancel_delivery", adminH.CancelDelivery))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			httpx.WriteProblem(w, http.StatusServiceUnavailable, "db_unreachable", err.Error())
			return
		}
		if err := mq.Ping(); err != nil {
			httpx.WriteProblem(w, http.StatusServiceUnavailable, "mq_unreachable", err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := httpx.New(":"+strconv.Itoa(cfg.HTTP.Port), mux)
	lg.Info("api_listening", map[string]any{"port": cfg.HTTP.Port})
	return srv.Run(ctx)
}
