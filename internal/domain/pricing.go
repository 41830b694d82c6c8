package domain

// Quote captures the priced order produced by the pricing engine.
type Quote struct {
	Currency   string     `json:"currency"`
	TotalMinor int64      `json:"totalMinor"`
	LineItems  []LineItem `json:"lineItems"`
}

// LineItem is one charged entry of a quote. The base fee is always the first item.
type LineItem struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Quantity    int64  `json:"quantity"`
	UnitMinor   int64  `json:"unitMinor"`
	AmountMinor int64  `json:"amountMinor"`
}

// Clone returns a copy with its own line item slice.
func (q Quote) Clone() Quote {
	out := q
	if q.LineItems != nil {
		out.LineItems = append([]LineItem(nil), q.LineItems...)
	}
	return out
}

// Codes lists the line item codes in order.
func (q Quote) Codes() []string {
	codes := make([]string, 0, len(q.LineItems))
	for _, item := range q.LineItems {
		codes = append(codes, item.Code)
	}
	return codes
}
