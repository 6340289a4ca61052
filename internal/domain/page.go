package domain

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// ProfilePageLimit bounds the pass history embedded in a profile view.
	ProfilePageLimit = 200
)

type Page struct {
	Limit  int
	Offset int
}

func DefaultPage() Page {
	return Page{Limit: DefaultPageLimit}
}

// Clamp fixes out-of-range values in place.
func (p *Page) Clamp() {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
