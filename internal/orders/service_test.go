package orders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChecksTenant(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, courierOrder(1, StatusLive))
	ctx := context.Background()

	agg, err := f.svc.Get(ctx, 1, order.HeaderID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, agg.Header.OrderID)
	assert.Len(t, agg.Lines, 2)
	assert.Len(t, agg.Units, 3)
	require.NotNil(t, agg.Delivery)
	assert.Equal(t, "40111", agg.Delivery.Pincode)

	_, err = f.svc.Get(ctx, 2, order.HeaderID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(ctx, 0, order.HeaderID)
	assert.NoError(t, err, "admin reads any tenant")

	logs, err := f.svc.Logs(ctx, 1, order.HeaderID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "order created", logs[0].Comments)

	_, err = f.svc.Logs(ctx, 2, order.HeaderID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByView(t *testing.T) {
	f := newFixture(t)
	held := f.create(t, courierOrder(1, ""))
	live := f.create(t, courierOrder(1, StatusLive))
	f.create(t, courierOrder(2, ""))
	ctx := context.Background()

	got, err := f.svc.List(ctx, 1, ViewOnHold, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, held.HeaderID, got[0].ID)

	got, err = f.svc.List(ctx, 1, ViewLive, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, live.HeaderID, got[0].ID)

	got, err = f.svc.List(ctx, 0, "", Page{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.svc.List(ctx, 0, ViewAll, Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, live.HeaderID, got[0].ID)

	_, err = f.svc.List(ctx, 1, "archived", Page{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteReleasesRack(t *testing.T) {
	f := newFixture(t)
	f.db.read(func(s *memState) { s.racks[5] = rack{available: 1} })
	order := f.create(t, courierOrder(1, StatusLive))
	f.eng.GeneratePicklist(context.Background(), []Tuple{{HeaderID: order.HeaderID, RackID: ptr(int64(5))}})
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, order.HeaderID, 1))

	_, err := f.svc.Get(ctx, 0, order.HeaderID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.units(order.HeaderID))
	f.db.read(func(s *memState) { assert.Equal(t, rack{available: 1}, s.racks[5]) })

	assert.ErrorIs(t, f.svc.Delete(ctx, order.HeaderID, 1), ErrNotFound)
}

func TestApplyShipmentStatus(t *testing.T) {
	f := newFixture(t)
	order := f.picklisted(t)
	ctx := context.Background()
	_, err := f.eng.MarkLabelGenerated(ctx, order.HeaderID, "AWB9", 9)
	require.NoError(t, err)

	up := ShipmentUpdate{AWBCode: "AWB9", Status: "in_transit", RawPayload: json.RawMessage(`{"hub":"BDO"}`)}
	require.NoError(t, f.svc.ApplyShipmentStatus(ctx, up))
	assert.Equal(t, "in_transit", f.header(order.HeaderID).LiveStatus)

	f.db.read(func(s *memState) {
		h := s.headers[order.HeaderID]
		h.LiveStatus = "overwritten"
		s.headers[order.HeaderID] = h
	})
	require.NoError(t, f.svc.ApplyShipmentStatus(ctx, up), "redelivery is accepted")
	assert.Equal(t, "overwritten", f.header(order.HeaderID).LiveStatus, "redelivery is not reapplied")

	missing := ShipmentUpdate{AWBCode: "AWB404", Status: "in_transit"}
	assert.ErrorIs(t, f.svc.ApplyShipmentStatus(ctx, missing), ErrNotFound)
	assert.NotContains(t, f.dedup.keys, "shipment:AWB404:in_transit", "failed update gives its claim back")

	assert.ErrorIs(t, f.svc.ApplyShipmentStatus(ctx, ShipmentUpdate{AWBCode: "AWB9"}), ErrValidation)
}

func TestStatusByOrderID(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, courierOrder(1, StatusLive))
	ctx := context.Background()

	h, err := f.svc.Status(ctx, 1, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, h.Status)

	_, err = f.svc.Status(ctx, 2, order.OrderID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Status(ctx, 1, "1_99")
	assert.ErrorIs(t, err, ErrNotFound)
}
