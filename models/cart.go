package models

// CartLine is one distinct menu item in the active cart. Unique per menuid.
type CartLine struct {
	MenuID        string `json:"menuid"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	UnitPrice     int64  `json:"price"`
	DiscountPrice *int64 `json:"discountprice,omitempty"`
	Quantity      int    `json:"quantity"`
	RestaurantID  string `json:"restaurantid"`
	DietaryFlag   string `json:"dietary,omitempty"` // e.g. "veg", "nonveg"
}

// EffectivePrice returns the discount price when set, the unit price otherwise.
func (l CartLine) EffectivePrice() int64 {
	if l.DiscountPrice != nil {
		return *l.DiscountPrice
	}
	return l.UnitPrice
}

// Cart is the ordered collection of lines for one session. The server holds
// the authoritative mirror keyed by cart id.
type Cart struct {
	CartID string     `json:"cartid"`
	Lines  []CartLine `json:"lines"`
}

// TotalPrice is always recomputed from the current lines, never stored.
func (c Cart) TotalPrice() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.EffectivePrice() * int64(l.Quantity)
	}
	return total
}
