package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/metrics"
)

const (
	ReasonAlreadyApplied  = "already at or past target status"
	ReasonOutOfSequence   = "not eligible from current status"
	ReasonNotFound        = "not found"
	ReasonRackUnavailable = "rack unavailable"
	ReasonFailed          = "update failed"
)

var errRackUnavailable = errors.New("rack unavailable")

// bulkTargets are the unit stages reachable through BulkTransition. Picklist
// generation has its own whole-order path.
var bulkTargets = map[Status]bool{
	StatusLive:        true,
	StatusToBePrinted: true,
	StatusPrinted:     true,
	StatusQC:          true,
	StatusDispatched:  true,
	StatusDelivered:   true,
}

// Tuple addresses a header, one of its lines, or a single unit. Without
// UnitID every unit of the line (or the whole header) is targeted.
type Tuple struct {
	HeaderID  int64     `json:"header_id"`
	LineID    *int64    `json:"line_id,omitempty"`
	UnitID    *int64    `json:"unit_id,omitempty"`
	RackID    *int64    `json:"rack_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   int64     `json:"actor_id"`
	Comments  string    `json:"comments,omitempty"`
}

type Skip struct {
	Tuple  Tuple  `json:"tuple"`
	Reason string `json:"reason"`
}

// BulkResult lists what changed. Anything not in Applied did not change.
type BulkResult struct {
	Applied []Tuple `json:"applied"`
	Skipped []Skip  `json:"skipped"`
}

type ScanInput struct {
	UnitCode  string    `json:"unit_code"`
	ActorID   int64     `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

type ScanResult struct {
	UnitCode     string `json:"unit_code"`
	Changed      bool   `json:"changed"`
	Status       Status `json:"status"`
	HeaderStatus Status `json:"header_status"`
	Reason       string `json:"reason,omitempty"`
}

type outcome struct {
	applied bool
	reason  string
	events  []Event
}

// Engine advances units and aggregates the result up to lines and headers.
// Every path locks the header row before touching its units, so sibling
// re-reads inside a transaction see all committed unit changes.
type Engine struct {
	db     TxRunner
	hooks  Hooks
	log    *zap.Logger
	now    func() time.Time
	tracer trace.Tracer
}

func NewEngine(d Deps) *Engine {
	d = d.withDefaults()
	return &Engine{db: d.DB, hooks: d.Hooks, log: d.Log, now: d.Now, tracer: otel.Tracer("orders")}
}

// BulkTransition applies target to every tuple in its own transaction.
// Tuples already at or past target are skipped without a log row; a failing
// tuple is logged and skipped while the rest carry on.
func (e *Engine) BulkTransition(ctx context.Context, target Status, tuples []Tuple) (BulkResult, error) {
	if target == StatusPicklistGenerated {
		return e.GeneratePicklist(ctx, tuples), nil
	}
	if !bulkTargets[target] {
		return BulkResult{}, invalid("status", fmt.Sprintf("%q is not a bulk transition target", target))
	}
	ctx, span := e.tracer.Start(ctx, "orders.BulkTransition", trace.WithAttributes(
		attribute.String("status.target", string(target)), attribute.Int("tuples", len(tuples))))
	defer span.End()

	var res BulkResult
	for _, t := range tuples {
		t = e.stamp(t)
		var out outcome
		err := e.db.InTx(ctx, func(tx Tx) error {
			var err error
			out, err = e.applyTuple(ctx, tx.Orders, target, t)
			return err
		})
		e.record(ctx, &res, target, t, out, err)
	}
	return res, nil
}

func (e *Engine) applyTuple(ctx context.Context, st Store, target Status, t Tuple) (outcome, error) {
	h, err := st.LockHeader(ctx, t.HeaderID)
	if err != nil {
		return outcome{}, err
	}
	units, err := st.Units(ctx, h.ID)
	if err != nil {
		return outcome{}, err
	}
	sel := selectUnits(units, t)
	if len(sel) == 0 {
		return outcome{reason: ReasonNotFound}, nil
	}

	// Restocking only reaches live for a funded order; an unfunded one goes
	// back to onhold and waits for Move-to-Live.
	to := target
	if target == StatusLive && !h.Funded() {
		to = StatusOnHold
	}

	changed, blocked := 0, 0
	for _, i := range sel {
		u := &units[i]
		if AtOrPast(u.Status, to) {
			continue
		}
		if !CanTransition(EntityUnit, u.Status, to) || (target == StatusLive && u.Status != StatusOutOfStock) {
			blocked++
			e.log.Warn("unit transition out of sequence",
				zap.String("unit_code", u.UnitCode), zap.String("from", string(u.Status)), zap.String("to", string(to)))
			continue
		}
		n, err := st.SetUnitStatus(ctx, u.ID, to, t.Timestamp, u.Status)
		if err != nil {
			return outcome{}, fmt.Errorf("unit %s: %w", u.UnitCode, err)
		}
		if n > 0 {
			u.Status = to
			changed++
		}
	}
	if changed == 0 {
		if blocked > 0 {
			return outcome{reason: ReasonOutOfSequence}, nil
		}
		return outcome{reason: ReasonAlreadyApplied}, nil
	}

	headerStatus, events, err := e.aggregate(ctx, st, h, units)
	if err != nil {
		return outcome{}, err
	}
	if err := st.InsertLog(ctx, OrderLog{
		HeaderID: h.ID, LineID: t.LineID, UserID: t.ActorID, Comments: comment(t, target),
		LogDate: t.Timestamp, OrderStatus: headerStatus, ItemStatus: to,
	}); err != nil {
		return outcome{}, err
	}
	return outcome{applied: true, events: events}, nil
}

func selectUnits(units []Unit, t Tuple) []int {
	var out []int
	for i, u := range units {
		switch {
		case t.UnitID != nil && u.ID != *t.UnitID:
		case t.LineID != nil && u.LineID != *t.LineID:
		default:
			out = append(out, i)
		}
	}
	return out
}

// aggregate moves each line, then the header, forward to the lowest status
// among their units. Nothing moves while any unit sits on a side branch.
// The header releases its rack when it reaches Dispatched.
func (e *Engine) aggregate(ctx context.Context, st Store, h Header, units []Unit) (Status, []Event, error) {
	lines, err := st.Lines(ctx, h.ID)
	if err != nil {
		return "", nil, err
	}
	byLine := map[int64][]Status{}
	all := make([]Status, 0, len(units))
	for _, u := range units {
		byLine[u.LineID] = append(byLine[u.LineID], u.Status)
		all = append(all, u.Status)
	}
	for _, l := range lines {
		to, ok := Aggregate(byLine[l.ID])
		if !ok || !CanTransition(EntityLine, l.Status, to) {
			continue
		}
		if _, err := st.SetLineStatus(ctx, l.ID, to, l.Status); err != nil {
			return "", nil, err
		}
	}

	to, ok := Aggregate(all)
	if !ok || !CanTransition(EntityHeader, h.Status, to) || (!h.Funded() && to != StatusOnHold) {
		return h.Status, nil, nil
	}
	n, err := st.SetHeaderStatus(ctx, h.ID, to, h.Status)
	if err != nil {
		return "", nil, err
	}
	if n == 0 {
		return h.Status, nil, nil
	}
	if to == StatusDispatched && h.RackID != nil {
		if err := st.ReleaseRack(ctx, h.ID); err != nil {
			return "", nil, err
		}
	}
	return to, []Event{e.statusChanged(h, to)}, nil
}

// GeneratePicklist moves whole live orders (header, lines and units
// together) to Picklist Generated, optionally parking each in a rack.
func (e *Engine) GeneratePicklist(ctx context.Context, tuples []Tuple) BulkResult {
	ctx, span := e.tracer.Start(ctx, "orders.GeneratePicklist", trace.WithAttributes(attribute.Int("tuples", len(tuples))))
	defer span.End()

	var res BulkResult
	for _, t := range tuples {
		t = e.stamp(t)
		var out outcome
		err := e.db.InTx(ctx, func(tx Tx) error {
			var err error
			out, err = e.picklist(ctx, tx.Orders, t)
			return err
		})
		e.record(ctx, &res, StatusPicklistGenerated, t, out, err)
	}
	return res
}

func (e *Engine) picklist(ctx context.Context, st Store, t Tuple) (outcome, error) {
	h, err := st.LockHeader(ctx, t.HeaderID)
	if err != nil {
		return outcome{}, err
	}
	if AtOrPast(h.Status, StatusPicklistGenerated) {
		return outcome{reason: ReasonAlreadyApplied}, nil
	}
	// A labelled header stays on the label track while its items enter
	// production.
	labelled := h.Status == StatusLabelGenerated
	if labelled {
		units, err := st.Units(ctx, h.ID)
		if err != nil {
			return outcome{}, err
		}
		statuses := make([]Status, len(units))
		for i, u := range units {
			statuses[i] = u.Status
		}
		low, ok := Aggregate(statuses)
		if ok && AtOrPast(low, StatusPicklistGenerated) {
			return outcome{reason: ReasonAlreadyApplied}, nil
		}
		if !ok || low != StatusLive {
			e.log.Warn("picklist requested out of sequence",
				zap.String("order_id", h.OrderID), zap.String("status", string(h.Status)))
			return outcome{reason: ReasonOutOfSequence}, nil
		}
	} else if h.Status != StatusLive {
		e.log.Warn("picklist requested out of sequence",
			zap.String("order_id", h.OrderID), zap.String("status", string(h.Status)))
		return outcome{reason: ReasonOutOfSequence}, nil
	}

	headerStatus := StatusPicklistGenerated
	if labelled {
		headerStatus = h.Status
	} else {
		n, err := st.SetHeaderStatus(ctx, h.ID, StatusPicklistGenerated, StatusLive)
		if err != nil {
			return outcome{}, err
		}
		if n == 0 {
			return outcome{reason: ReasonOutOfSequence}, nil
		}
	}
	if _, err := st.SetLinesStatus(ctx, h.ID, StatusPicklistGenerated, StatusLive); err != nil {
		return outcome{}, err
	}
	if _, err := st.SetUnitsStatus(ctx, h.ID, StatusPicklistGenerated, t.Timestamp, StatusLive); err != nil {
		return outcome{}, err
	}
	if t.RackID != nil {
		n, err := st.OccupyRack(ctx, *t.RackID, h.ID)
		if err != nil {
			return outcome{}, err
		}
		if n == 0 {
			return outcome{}, fmt.Errorf("rack %d: %w", *t.RackID, errRackUnavailable)
		}
	}
	if err := st.InsertLog(ctx, OrderLog{
		HeaderID: h.ID, UserID: t.ActorID, Comments: comment(t, StatusPicklistGenerated), LogDate: t.Timestamp,
		OrderStatus: headerStatus, ItemStatus: StatusPicklistGenerated,
	}); err != nil {
		return outcome{}, err
	}
	if labelled {
		return outcome{applied: true}, nil
	}
	return outcome{applied: true, events: []Event{e.statusChanged(h, StatusPicklistGenerated)}}, nil
}

// Scan advances one unit a single scanner step. Units outside the scanner
// range are left untouched and reported as not changed.
func (e *Engine) Scan(ctx context.Context, in ScanInput) (ScanResult, error) {
	return e.scan(ctx, in, ScanNext)
}

// ScanDispatch dispatches one unit. It only acts on units at QC.
func (e *Engine) ScanDispatch(ctx context.Context, in ScanInput) (ScanResult, error) {
	return e.scan(ctx, in, func(cur Status) (Status, bool) {
		return StatusDispatched, cur == StatusQC
	})
}

func (e *Engine) scan(ctx context.Context, in ScanInput, step func(Status) (Status, bool)) (ScanResult, error) {
	if in.UnitCode == "" {
		return ScanResult{}, invalid("unit_code", "required")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now().UTC()
	}

	var (
		res    ScanResult
		events []Event
		target Status
	)
	err := e.db.InTx(ctx, func(tx Tx) error {
		res, events = ScanResult{UnitCode: in.UnitCode}, nil
		ref, err := tx.Orders.UnitByCode(ctx, in.UnitCode)
		if err != nil {
			return err
		}
		h, err := tx.Orders.LockHeader(ctx, ref.HeaderID)
		if err != nil {
			return err
		}
		units, err := tx.Orders.Units(ctx, h.ID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range units {
			if units[i].ID == ref.ID {
				idx = i
			}
		}
		if idx < 0 {
			return fmt.Errorf("unit %s: %w", in.UnitCode, ErrNotFound)
		}
		u := units[idx]
		res.Status, res.HeaderStatus = u.Status, h.Status

		next, ok := step(u.Status)
		target = next
		if !ok {
			e.log.Warn("scan out of sequence",
				zap.String("unit_code", u.UnitCode), zap.String("status", string(u.Status)))
			res.Reason = ReasonOutOfSequence
			return nil
		}
		n, err := tx.Orders.SetUnitStatus(ctx, u.ID, next, in.Timestamp, u.Status)
		if err != nil {
			return err
		}
		if n == 0 {
			res.Reason = ReasonOutOfSequence
			return nil
		}
		units[idx].Status = next

		hs, evs, err := e.aggregate(ctx, tx.Orders, h, units)
		if err != nil {
			return err
		}
		lineID := u.LineID
		if err := tx.Orders.InsertLog(ctx, OrderLog{
			HeaderID: h.ID, LineID: &lineID, UserID: in.ActorID, Comments: "scanned " + u.UnitCode,
			LogDate: in.Timestamp, OrderStatus: hs, ItemStatus: next,
		}); err != nil {
			return err
		}
		res.Changed, res.Status, res.HeaderStatus, events = true, next, hs, evs
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}
	if target == "" {
		target = res.Status
	}
	result := "applied"
	if !res.Changed {
		result = "skipped"
	}
	metrics.UnitTransitions.WithLabelValues(string(target), result).Inc()
	for _, ev := range events {
		e.hooks.Fire(ctx, e.log, ev)
	}
	return res, nil
}

// MarkLabelGenerated records the courier AWB and moves the header onto the
// label track.
func (e *Engine) MarkLabelGenerated(ctx context.Context, headerID int64, awb string, actorID int64) (Header, error) {
	if awb == "" {
		return Header{}, invalid("awb_code", "required")
	}
	now := e.now().UTC()
	var (
		h    Header
		prev Status
	)
	err := e.db.InTx(ctx, func(tx Tx) error {
		var err error
		if h, err = tx.Orders.LockHeader(ctx, headerID); err != nil {
			return err
		}
		if !CanTransition(EntityHeader, h.Status, StatusLabelGenerated) {
			return fmt.Errorf("%w: cannot label order %s at %q", ErrInvalidState, h.OrderID, h.Status)
		}
		if err := tx.Orders.SetAWB(ctx, h.ID, awb); err != nil {
			return err
		}
		if _, err := tx.Orders.SetHeaderStatus(ctx, h.ID, StatusLabelGenerated, h.Status); err != nil {
			return err
		}
		if err := tx.Orders.InsertLog(ctx, OrderLog{
			HeaderID: h.ID, UserID: actorID, Comments: "label generated " + awb, LogDate: now,
			OrderStatus: StatusLabelGenerated,
		}); err != nil {
			return err
		}
		prev, h.Status, h.AWBCode = h.Status, StatusLabelGenerated, awb
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	ev := e.statusChanged(h, StatusLabelGenerated)
	ev.Previous = prev
	e.hooks.Fire(ctx, e.log, ev)
	return h, nil
}

// ApproveReturn moves a delivered order, with its lines and units, to returned.
func (e *Engine) ApproveReturn(ctx context.Context, headerID, actorID int64) (Header, error) {
	now := e.now().UTC()
	var h Header
	err := e.db.InTx(ctx, func(tx Tx) error {
		var err error
		if h, err = tx.Orders.LockHeader(ctx, headerID); err != nil {
			return err
		}
		if h.Status != StatusDelivered {
			return fmt.Errorf("%w: order %s is %q, want %q", ErrInvalidState, h.OrderID, h.Status, StatusDelivered)
		}
		if _, err := tx.Orders.SetHeaderStatus(ctx, h.ID, StatusReturned, StatusDelivered); err != nil {
			return err
		}
		if _, err := tx.Orders.SetLinesStatus(ctx, h.ID, StatusReturned, StatusDelivered); err != nil {
			return err
		}
		if _, err := tx.Orders.SetUnitsStatus(ctx, h.ID, StatusReturned, now, StatusDelivered); err != nil {
			return err
		}
		return tx.Orders.InsertLog(ctx, OrderLog{
			HeaderID: h.ID, UserID: actorID, Comments: "return approved", LogDate: now,
			OrderStatus: StatusReturned, ItemStatus: StatusReturned,
		})
	})
	if err != nil {
		return Header{}, err
	}
	ev := e.statusChanged(h, StatusReturned)
	h.Status = StatusReturned
	e.hooks.Fire(ctx, e.log, ev)
	return h, nil
}

func (e *Engine) record(ctx context.Context, res *BulkResult, target Status, t Tuple, out outcome, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		res.Skipped = append(res.Skipped, Skip{Tuple: t, Reason: ReasonNotFound})
		metrics.UnitTransitions.WithLabelValues(string(target), "skipped").Inc()
	case errors.Is(err, errRackUnavailable):
		res.Skipped = append(res.Skipped, Skip{Tuple: t, Reason: ReasonRackUnavailable})
		metrics.UnitTransitions.WithLabelValues(string(target), "skipped").Inc()
	case err != nil:
		e.log.Error("transition failed",
			zap.Int64("header_id", t.HeaderID), zap.String("target", string(target)), zap.Error(err))
		res.Skipped = append(res.Skipped, Skip{Tuple: t, Reason: ReasonFailed})
		metrics.UnitTransitions.WithLabelValues(string(target), "failed").Inc()
	case out.applied:
		res.Applied = append(res.Applied, t)
		metrics.UnitTransitions.WithLabelValues(string(target), "applied").Inc()
		for _, ev := range out.events {
			e.hooks.Fire(ctx, e.log, ev)
		}
	default:
		res.Skipped = append(res.Skipped, Skip{Tuple: t, Reason: out.reason})
		metrics.UnitTransitions.WithLabelValues(string(target), "skipped").Inc()
	}
}

func (e *Engine) stamp(t Tuple) Tuple {
	if t.Timestamp.IsZero() {
		t.Timestamp = e.now().UTC()
	}
	return t
}

func (e *Engine) statusChanged(h Header, to Status) Event {
	return Event{
		Type:       EventOrderStatusChanged,
		HeaderID:   h.ID,
		OrderID:    h.OrderID,
		TenantID:   h.TenantID,
		Previous:   h.Status,
		Status:     to,
		OccurredAt: e.now().UTC(),
	}
}

func comment(t Tuple, target Status) string {
	if t.Comments != "" {
		return t.Comments
	}
	return "moved to " + string(target)
}
