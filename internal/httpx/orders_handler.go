package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/logger"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
	"github.com/ariefcatur/go-pod-fulfillment/internal/redisx"
)

type OrderService interface {
	Create(ctx context.Context, in orders.CreateInput) (orders.CreateResult, error)
	Get(ctx context.Context, tenantID, headerID int64) (orders.OrderAggregate, error)
	Status(ctx context.Context, tenantID int64, orderID string) (orders.Header, error)
	Logs(ctx context.Context, tenantID, headerID int64) ([]orders.OrderLog, error)
	List(ctx context.Context, tenantID int64, view orders.View, page orders.Page) ([]orders.Header, error)
	Delete(ctx context.Context, headerID, actorID int64) error
	MoveToLive(ctx context.Context, in orders.MoveToLiveInput) (orders.SettlementResult, error)
	ApplyShipmentStatus(ctx context.Context, u orders.ShipmentUpdate) error
}

type TransitionEngine interface {
	BulkTransition(ctx context.Context, target orders.Status, tuples []orders.Tuple) (orders.BulkResult, error)
	GeneratePicklist(ctx context.Context, tuples []orders.Tuple) orders.BulkResult
	Scan(ctx context.Context, in orders.ScanInput) (orders.ScanResult, error)
	ScanDispatch(ctx context.Context, in orders.ScanInput) (orders.ScanResult, error)
	MarkLabelGenerated(ctx context.Context, headerID int64, awb string, actorID int64) (orders.Header, error)
	ApproveReturn(ctx context.Context, headerID, actorID int64) (orders.Header, error)
}

type Idempotency interface {
	Lookup(ctx context.Context, tenantID int64, key string) (string, bool, error)
	Remember(ctx context.Context, tenantID int64, key, orderID string) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, orderID, status string, at time.Time) error
}

// OrdersHandler is a thin controller over the order service and transition
// engine. Idem, Cache and Courier are optional.
type OrdersHandler struct {
	Orders  OrderService
	Engine  TransitionEngine
	Idem    Idempotency
	Cache   StatusCache
	Courier orders.CourierRates
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/logs", h.orderLogs)
		r.Delete("/{id}", h.deleteOrder)
		r.Post("/{id}/live", h.moveToLive)
		r.Post("/{id}/label", h.markLabel)
		r.Post("/{id}/return", h.approveReturn)
	})
	r.Get("/status/{orderId}", h.orderStatus)
	r.Post("/transitions/picklist", h.picklist)
	r.Post("/transitions/bulk", h.bulkTransition)
	r.Post("/units/{code}/scan", h.scan)
	r.Post("/units/{code}/dispatch", h.dispatch)
	r.Post("/webhooks/shipment", h.shipmentWebhook)
	r.Post("/courier/quote", h.courierQuote)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, good := identity(w, r)
	if !good {
		return
	}
	var in orders.CreateInput
	if !decode(w, r, &in) {
		return
	}
	in.TenantID, in.ActorID = tenantID, userID
	ctx, log := r.Context(), logger.FromContext(r.Context())

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.Idem != nil {
		orderID, found, err := h.Idem.Lookup(ctx, tenantID, key)
		if err != nil {
			log.Warn("idempotency lookup failed", zap.Error(err))
		} else if found {
			ok(w, http.StatusOK, "order already created", map[string]any{"order_id": orderID, "idempotent": true})
			return
		}
	}

	res, err := h.Orders.Create(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, tenantID, key, res.OrderID); err != nil {
			log.Warn("remember idempotency key", zap.String("order_id", res.OrderID), zap.Error(err))
		}
	}
	ok(w, http.StatusCreated, "order created", res)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	limit := queryInt(r, "limit", 50)
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	list, err := h.Orders.List(r.Context(), tenantID, orders.View(r.URL.Query().Get("view")),
		orders.Page{Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Header{}
	}
	ok(w, http.StatusOK, "orders", list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	agg, err := h.Orders.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "order", agg)
}

func (h *OrdersHandler) orderLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	logs, err := h.Orders.Logs(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "order logs", logs)
}

// orderStatus serves from the Redis cache and falls back to the database,
// refilling the cache on a miss.
func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, _, good := identity(w, r)
	if !good {
		return
	}
	orderID := chi.URLParam(r, "orderId")
	if !strings.HasPrefix(orderID, strconv.FormatInt(tenantID, 10)+"_") {
		fail(w, http.StatusNotFound, "not found")
		return
	}
	ctx, log := r.Context(), logger.FromContext(r.Context())

	if h.Cache != nil {
		cs, hit, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if hit {
			ok(w, http.StatusOK, "order status", map[string]any{
				"order_id": orderID, "status": cs.Status, "updated_at": cs.UpdatedAt, "cached": true,
			})
			return
		}
	}

	hdr, err := h.Orders.Status(ctx, tenantID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, orderID, string(hdr.Status), hdr.UpdatedAt); err != nil {
			log.Warn("status cache write failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	ok(w, http.StatusOK, "order status", map[string]any{
		"order_id": orderID, "status": hdr.Status, "updated_at": hdr.UpdatedAt, "cached": false,
	})
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	if err := h.Orders.Delete(r.Context(), id, actorID); err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "order deleted", nil)
}

func (h *OrdersHandler) moveToLive(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, good := identity(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var in orders.MoveToLiveInput
	if !decode(w, r, &in) {
		return
	}
	in.HeaderID, in.TenantID, in.ActorID = id, tenantID, userID
	res, err := h.Orders.MoveToLive(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "order moved to live", res)
}

func (h *OrdersHandler) markLabel(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var req struct {
		AWBCode string `json:"awb_code"`
	}
	if !decode(w, r, &req) {
		return
	}
	hdr, err := h.Engine.MarkLabelGenerated(r.Context(), id, req.AWBCode, actorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "label generated", hdr)
}

func (h *OrdersHandler) approveReturn(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	hdr, err := h.Engine.ApproveReturn(r.Context(), id, actorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "return approved", hdr)
}

type transitionRequest struct {
	Status orders.Status  `json:"status"`
	Tuples []orders.Tuple `json:"tuples"`
}

func (req *transitionRequest) fill(actorID int64) {
	for i := range req.Tuples {
		if req.Tuples[i].ActorID == 0 {
			req.Tuples[i].ActorID = actorID
		}
	}
}

func (h *OrdersHandler) picklist(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Tuples) == 0 {
		fail(w, http.StatusBadRequest, "tuples: at least one is required")
		return
	}
	req.fill(actorID)
	ok(w, http.StatusOK, "picklist processed", h.Engine.GeneratePicklist(r.Context(), req.Tuples))
}

func (h *OrdersHandler) bulkTransition(w http.ResponseWriter, r *http.Request) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Tuples) == 0 {
		fail(w, http.StatusBadRequest, "tuples: at least one is required")
		return
	}
	req.fill(actorID)
	res, err := h.Engine.BulkTransition(r.Context(), req.Status, req.Tuples)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, fmt.Sprintf("%d applied, %d skipped", len(res.Applied), len(res.Skipped)), res)
}

func (h *OrdersHandler) scan(w http.ResponseWriter, r *http.Request) {
	h.scanWith(w, r, h.Engine.Scan)
}

func (h *OrdersHandler) dispatch(w http.ResponseWriter, r *http.Request) {
	h.scanWith(w, r, h.Engine.ScanDispatch)
}

func (h *OrdersHandler) scanWith(w http.ResponseWriter, r *http.Request, fn func(context.Context, orders.ScanInput) (orders.ScanResult, error)) {
	actorID, good := requireActor(w, r)
	if !good {
		return
	}
	var in orders.ScanInput
	if !decode(w, r, &in) {
		return
	}
	in.UnitCode, in.ActorID = chi.URLParam(r, "code"), actorID
	res, err := fn(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "unit advanced"
	if !res.Changed {
		msg = "unit unchanged: " + res.Reason
	}
	ok(w, http.StatusOK, msg, res)
}

// shipmentWebhook keeps the whole courier body as the raw payload unless the
// caller sent one explicitly.
func (h *OrdersHandler) shipmentWebhook(w http.ResponseWriter, r *http.Request) {
	if _, good := requireActor(w, r); !good {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		fail(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var u orders.ShipmentUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(u.RawPayload) == 0 {
		u.RawPayload = body
	}
	if err := h.Orders.ApplyShipmentStatus(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "shipment status recorded", nil)
}

func (h *OrdersHandler) courierQuote(w http.ResponseWriter, r *http.Request) {
	if h.Courier == nil {
		fail(w, http.StatusServiceUnavailable, "courier rates unavailable")
		return
	}
	var req orders.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OriginPincode == "" || req.DestPincode == "" {
		fail(w, http.StatusBadRequest, "origin_pincode and dest_pincode are required")
		return
	}
	quotes, err := h.Courier.Quote(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Error("courier quote failed", zap.Error(err))
		fail(w, http.StatusBadGateway, "courier rate service unavailable")
		return
	}
	ok(w, http.StatusOK, "courier quotes", quotes)
}
