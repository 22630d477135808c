package orders

// View names a listing tab. Each maps to one header status filter.
type View string

const (
	ViewOnHold         View = "onhold"
	ViewLive           View = "live"
	ViewOutOfStock     View = "out_of_stock"
	ViewPicklist       View = "picklist"
	ViewPrinting       View = "printing"
	ViewQC             View = "qc"
	ViewLabelGenerated View = "label_generated"
	ViewDispatched     View = "dispatched"
	ViewDelivered      View = "delivered"
	ViewReturned       View = "returned"
	ViewAll            View = "all"
)

var viewFilters = map[View][]Status{
	ViewOnHold:         {StatusOnHold},
	ViewLive:           {StatusLive},
	ViewOutOfStock:     {StatusOutOfStock},
	ViewPicklist:       {StatusPicklistGenerated},
	ViewPrinting:       {StatusToBePrinted, StatusPrinted},
	ViewQC:             {StatusQC},
	ViewLabelGenerated: {StatusLabelGenerated},
	ViewDispatched:     {StatusDispatched},
	ViewDelivered:      {StatusDelivered},
	ViewReturned:       {StatusReturned},
	ViewAll:            nil,
}

// Filter returns the statuses the view lists. A nil slice means no filter.
func (v View) Filter() ([]Status, bool) {
	f, ok := viewFilters[v]
	return f, ok
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
