// Package execution simulates an exchange for bar replay: a book of resting
// orders, a deterministic intrabar fill matcher, and a SQLite fill journal.
package execution

import (
	"fmt"

	"trading-backtestv1/internal/model"
)

const qtyEpsilon = 1e-12

// entry wraps a resting order with the book's bookkeeping.
type entry struct {
	order  model.RestingOrder
	seq    int
	parent string // bracket parent; children wait for it to fill
	armed  bool   // parent filled during the current bar
	active bool   // eligible for matching
	oco    []string
}

// Book holds resting orders in placement order. It is owned by one run and
// is not safe for concurrent use.
type Book struct {
	prefix  string
	ids     int
	placed  int
	entries []*entry
}

// NewBook creates an empty book whose order IDs start with prefix.
func NewBook(prefix string) *Book {
	if prefix == "" {
		prefix = "ORD"
	}
	return &Book{prefix: prefix, entries: make([]*entry, 0, 8)}
}

func (b *Book) nextID() string {
	b.ids++
	return fmt.Sprintf("%s-%d", b.prefix, b.ids)
}

func (b *Book) add(o model.RestingOrder, parent string, active bool) *entry {
	if o.ID == "" {
		o.ID = b.nextID()
	}
	b.placed++
	e := &entry{order: o, seq: b.placed, parent: parent, active: active}
	b.entries = append(b.entries, e)
	return e
}

// Place adds an order that is eligible from the next Match call and returns
// its ID.
func (b *Book) Place(o model.RestingOrder) string {
	return b.add(o, "", true).order.ID
}

// PlaceBracket adds parent plus protective children. Children start with
// zero quantity and grow by each parent fill; they become eligible on the
// bar after the fill and cancel each other (OCO) as they execute.
func (b *Book) PlaceBracket(parent model.RestingOrder, children ...model.RestingOrder) string {
	p := b.add(parent, "", true)
	kids := make([]*entry, 0, len(children))
	for _, c := range children {
		c.Qty = 0
		kids = append(kids, b.add(c, p.order.ID, false))
	}
	for _, k := range kids {
		for _, s := range kids {
			if s != k {
				k.oco = append(k.oco, s.order.ID)
			}
		}
	}
	return p.order.ID
}

// Cancel removes an order. Children of a never-filled parent go with it.
func (b *Book) Cancel(id string) bool {
	found := false
	kept := b.entries[:0]
	for _, e := range b.entries {
		switch {
		case e.order.ID == id:
			found = true
		case e.parent == id && e.order.Qty <= qtyEpsilon:
		default:
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return found
}

// CancelWhere removes every order for which match returns true and returns
// how many were removed.
func (b *Book) CancelWhere(match func(model.RestingOrder) bool) int {
	var ids []string
	for _, e := range b.entries {
		if match(e.order) {
			ids = append(ids, e.order.ID)
		}
	}
	n := 0
	for _, id := range ids {
		if b.Cancel(id) {
			n++
		}
	}
	return n
}

// CancelOrphanExits removes exit orders that no longer protect anything:
// standalone exits and children whose parent has left the book. Children
// still waiting on a resting parent are kept.
func (b *Book) CancelOrphanExits() int {
	live := make(map[string]bool, len(b.entries))
	for _, e := range b.entries {
		live[e.order.ID] = true
	}
	n := 0
	kept := b.entries[:0]
	for _, e := range b.entries {
		if !e.order.Purpose.Opens() && (e.parent == "" || !live[e.parent]) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return n
}

// CancelAll empties the book.
func (b *Book) CancelAll() int {
	n := len(b.entries)
	b.entries = b.entries[:0]
	return n
}

// Orders returns a snapshot of every order in placement order, including
// children still waiting on their parent.
func (b *Book) Orders() []model.RestingOrder {
	out := make([]model.RestingOrder, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.order)
	}
	return out
}

// Len returns the number of orders in the book.
func (b *Book) Len() int {
	return len(b.entries)
}

// Has reports whether any order serves purpose p.
func (b *Book) Has(p model.Purpose) bool {
	for _, e := range b.entries {
		if e.order.Purpose == p {
			return true
		}
	}
	return false
}

// arm promotes children whose parent filled on an earlier bar.
func (b *Book) arm() {
	for _, e := range b.entries {
		if e.armed {
			e.armed = false
			e.active = true
		}
	}
}

// eligible returns the orders the matcher may fill on this bar.
func (b *Book) eligible() []*entry {
	out := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.active && e.order.Qty > qtyEpsilon {
			out = append(out, e)
		}
	}
	return out
}

func (b *Book) find(id string) *entry {
	for _, e := range b.entries {
		if e.order.ID == id {
			return e
		}
	}
	return nil
}

// executed books a fill of qty against e: children of e grow, OCO siblings
// shrink, and fully filled orders leave the book.
func (b *Book) executed(e *entry, qty float64) {
	e.order.Qty -= qty
	for _, c := range b.entries {
		if c.parent == e.order.ID {
			c.order.Qty += qty
			if !c.active {
				c.armed = true
			}
		}
	}
	for _, id := range e.oco {
		if s := b.find(id); s != nil {
			s.order.Qty -= qty
		}
	}

	present := make(map[string]bool, len(b.entries))
	for _, x := range b.entries {
		if x.order.Qty > qtyEpsilon {
			present[x.order.ID] = true
		}
	}
	kept := b.entries[:0]
	for _, x := range b.entries {
		waiting := x.parent != "" && !x.active && !x.armed && present[x.parent]
		if x.order.Qty > qtyEpsilon || waiting {
			kept = append(kept, x)
		}
	}
	b.entries = kept
}
