package orders

import "slices"

// Status values are persisted verbatim and compared case-sensitively by
// every collaborator.
type Status string

const (
	StatusOnHold            Status = "onhold"
	StatusLive              Status = "live"
	StatusPicklistGenerated Status = "Picklist Generated"
	StatusToBePrinted       Status = "To be Printed"
	StatusPrinted           Status = "Printed"
	StatusQC                Status = "QC"
	StatusDispatched        Status = "Dispatched"
	StatusDelivered         Status = "Delivered"
	StatusReturned          Status = "returned"
	StatusOutOfStock        Status = "Out-Of-Stock"
	StatusLabelGenerated    Status = "Label generated"
)

// Entity selects which transition table applies.
type Entity string

const (
	EntityHeader Entity = "header"
	EntityLine   Entity = "line"
	EntityUnit   Entity = "unit"
)

var pipelineRank = map[Status]int{
	StatusOnHold:            0,
	StatusLive:              1,
	StatusPicklistGenerated: 2,
	StatusToBePrinted:       3,
	StatusPrinted:           4,
	StatusQC:                5,
	StatusDispatched:        6,
	StatusDelivered:         7,
	StatusReturned:          8,
}

// unitNext is the complete unit table: exactly one stage at a time.
var unitNext = map[Status][]Status{
	StatusOnHold:            {StatusLive, StatusOutOfStock},
	StatusLive:              {StatusPicklistGenerated, StatusOutOfStock},
	StatusOutOfStock:        {StatusLive, StatusOnHold},
	StatusPicklistGenerated: {StatusToBePrinted},
	StatusToBePrinted:       {StatusPrinted},
	StatusPrinted:           {StatusQC},
	StatusQC:                {StatusDispatched},
	StatusDispatched:        {StatusDelivered},
	StatusDelivered:         {StatusReturned},
}

// parentSide holds the header/line moves that are not pipeline aggregation.
// A restocked order returns to onhold until its wallet debit has happened.
var parentSide = map[Status][]Status{
	StatusOnHold:     {StatusLive, StatusOutOfStock},
	StatusLive:       {StatusOutOfStock},
	StatusOutOfStock: {StatusLive, StatusOnHold},
	StatusDelivered:  {StatusReturned},
}

var labelFrom = []Status{
	StatusLive, StatusPicklistGenerated, StatusToBePrinted, StatusPrinted, StatusQC,
}

var scanNext = map[Status]Status{
	StatusPicklistGenerated: StatusToBePrinted,
	StatusToBePrinted:       StatusPrinted,
	StatusPrinted:           StatusQC,
}

var allStatuses = []Status{
	StatusOnHold, StatusLive, StatusPicklistGenerated, StatusToBePrinted, StatusPrinted,
	StatusQC, StatusDispatched, StatusDelivered, StatusReturned, StatusOutOfStock,
	StatusLabelGenerated,
}

func (s Status) Valid() bool { return slices.Contains(allStatuses, s) }

// AtOrPast reports whether cur has already reached target in pipeline order.
// Side-branch statuses only match themselves.
func AtOrPast(cur, target Status) bool {
	if cur == target {
		return true
	}
	cr, ok1 := pipelineRank[cur]
	tr, ok2 := pipelineRank[target]
	return ok1 && ok2 && cr >= tr
}

// CanTransition consults the allowed-transition table for the entity.
// Units move one stage at a time. Headers and lines additionally advance
// forward along the production pipeline (live..Delivered) by aggregation,
// and only headers carry the courier-label track.
func CanTransition(e Entity, from, to Status) bool {
	if from == to {
		return false
	}
	if e == EntityUnit {
		return slices.Contains(unitNext[from], to)
	}
	if to == StatusLabelGenerated {
		return e == EntityHeader && slices.Contains(labelFrom, from)
	}
	if from == StatusLabelGenerated {
		return e == EntityHeader && (to == StatusDispatched || to == StatusDelivered)
	}
	if slices.Contains(parentSide[from], to) {
		return true
	}
	fr, ok1 := pipelineRank[from]
	tr, ok2 := pipelineRank[to]
	return ok1 && ok2 && fr >= pipelineRank[StatusLive] && tr > fr && to != StatusReturned
}

// ScanNext is the scanner step: Picklist Generated → To be Printed → Printed → QC.
func ScanNext(cur Status) (Status, bool) {
	next, ok := scanNext[cur]
	return next, ok
}

// Aggregate returns the status all given units have reached: the lowest
// pipeline status among them. ok is false for an empty set or when any unit
// sits on a side branch.
func Aggregate(statuses []Status) (Status, bool) {
	if len(statuses) == 0 {
		return "", false
	}
	low, lowRank := Status(""), -1
	for _, s := range statuses {
		r, ok := pipelineRank[s]
		if !ok {
			return "", false
		}
		if lowRank == -1 || r < lowRank {
			low, lowRank = s, r
		}
	}
	return low, true
}
