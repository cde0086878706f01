package domain

import "time"

type MenuItem struct {
	ID     string
	Name   string
	Course string
	Price  Money
}

type PreorderLine struct {
	MenuItemID string
	Quantity   int
}

type SundayPreorder struct {
	TableBookingID string
	Lines          []PreorderLine
	UpdatedAt      *time.Time
}

// Quantities indexes the lines by menu item for rendering.
func (p *SundayPreorder) Quantities() map[string]int {
	out := make(map[string]int, len(p.Lines))
	for _, l := range p.Lines {
		out[l.MenuItemID] = l.Quantity
	}
	return out
}
