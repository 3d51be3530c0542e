package position

// Book holds every position of one account, open and terminal. It carries no
// lock of its own: all access serializes through the owning account session,
// the same scope that guards the ledger.
type Book struct {
	byID    map[string]*Position
	ordered []*Position // insertion order, used for stable views
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{byID: make(map[string]*Position)}
}

// Add registers a position. Duplicate IDs are overwritten silently; the order
// processor never reuses IDs.
func (b *Book) Add(p *Position) {
	if _, exists := b.byID[p.ID]; !exists {
		b.ordered = append(b.ordered, p)
	}
	b.byID[p.ID] = p
}

// Get returns the position with the given ID, or nil.
func (b *Book) Get(id string) *Position {
	return b.byID[id]
}

// Open returns all open positions.
func (b *Book) Open() []*Position {
	var out []*Position
	for _, p := range b.ordered {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// OpenBySymbol returns all open positions on one symbol.
func (b *Book) OpenBySymbol(symbol string) []*Position {
	var out []*Position
	for _, p := range b.ordered {
		if p.IsOpen() && p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// FirstOpen returns the oldest open position on a symbol, or nil. Used by the
// symbol-addressed close path.
func (b *Book) FirstOpen(symbol string) *Position {
	for _, p := range b.ordered {
		if p.IsOpen() && p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// All returns every position in insertion order.
func (b *Book) All() []*Position {
	out := make([]*Position, len(b.ordered))
	copy(out, b.ordered)
	return out
}

// OpenCount returns the number of open positions.
func (b *Book) OpenCount() int {
	n := 0
	for _, p := range b.ordered {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// Symbols returns the distinct symbols with at least one open position.
func (b *Book) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range b.ordered {
		if p.IsOpen() && !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}
