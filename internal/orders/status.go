package orders

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusReady: true},
	StatusReady:      {StatusCompleted: true},
	StatusCompleted:  {StatusRefunded: true},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no more work happens on the order. COMPLETED is
// terminal even though it can still be refunded.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemPreparing ItemStatus = "PREPARING"
	ItemReady     ItemStatus = "READY"
	ItemServed    ItemStatus = "SERVED"
	ItemCancelled ItemStatus = "CANCELLED"
)

var validItemNext = map[ItemStatus]map[ItemStatus]bool{
	ItemPending:   {ItemPreparing: true, ItemCancelled: true},
	ItemPreparing: {ItemReady: true, ItemCancelled: true},
	ItemReady:     {ItemServed: true},
	ItemServed:    {},
	ItemCancelled: {},
}

func CanTransitionItem(from, to ItemStatus) bool {
	return validItemNext[from][to]
}

func (s ItemStatus) Valid() bool {
	_, ok := validItemNext[s]
	return ok
}

// Resolved items no longer appear on the kitchen board.
func (s ItemStatus) Resolved() bool {
	return s == ItemServed || s == ItemCancelled
}

// ItemTally is the multiset of item states the cascade rule works on.
type ItemTally map[ItemStatus]int

func Tally(items []OrderItem) ItemTally {
	t := make(ItemTally, len(validItemNext))
	for _, it := range items {
		t[it.Status]++
	}
	return t
}

func (t ItemTally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}

// DeriveOrderStatus returns the order statuses implied by the item tally, in
// the order they must be entered. An empty result means no change.
func DeriveOrderStatus(current Status, everInProgress bool, t ItemTally) []Status {
	total := t.Total()
	active := total - t[ItemCancelled]

	if total > 0 && active == 0 {
		if !everInProgress && current != StatusInProgress && CanTransition(current, StatusCancelled) {
			return []Status{StatusCancelled}
		}
		return nil
	}

	var steps []Status
	s := current
	if s == StatusConfirmed && t[ItemPreparing]+t[ItemReady]+t[ItemServed] > 0 {
		s = StatusInProgress
		steps = append(steps, s)
	}
	if s == StatusInProgress && active > 0 && t[ItemReady]+t[ItemServed] == active {
		steps = append(steps, StatusReady)
	}
	return steps
}

const derivedNote = "derived from item status"

// TransitionTo moves the order to status to. Nothing is modified when an
// error is returned.
func (o *Order) TransitionTo(to Status, note string, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return invalidOrderTransition(o.Status, to)
	}
	switch to {
	case StatusCancelled:
		for _, it := range o.Items {
			if !it.Status.Resolved() && !CanTransitionItem(it.Status, ItemCancelled) {
				return invalidOrderTransition(o.Status, to)
			}
		}
	case StatusReady:
		// An in-progress order whose items were all cancelled has nothing left
		// to prepare and may still be released through READY.
		t := Tally(o.Items)
		active := t.Total() - t[ItemCancelled]
		if t.Total() == 0 || t[ItemReady]+t[ItemServed] != active {
			return invalidOrderTransition(o.Status, to)
		}
	}

	switch to {
	case StatusCancelled:
		for i := range o.Items {
			if !o.Items[i].Status.Resolved() {
				o.Items[i].Status = ItemCancelled
			}
		}
	case StatusCompleted:
		for i := range o.Items {
			if o.Items[i].Status == ItemReady {
				o.Items[i].Status = ItemServed
			}
		}
	}
	o.enter(to, note, at)
	return nil
}

// TransitionItem moves one item and applies the cascade. It returns the order
// statuses entered as a consequence.
func (o *Order) TransitionItem(itemID string, to ItemStatus, note string, at time.Time) ([]Status, error) {
	it, ok := o.Item(itemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if !o.acceptsItemTransition(to) {
		return nil, invalidItemTransition(it.Status, to)
	}
	if !CanTransitionItem(it.Status, to) {
		return nil, invalidItemTransition(it.Status, to)
	}

	it.Status = to
	o.UpdatedAt = at
	derived := DeriveOrderStatus(o.Status, o.EverInProgress(), Tally(o.Items))
	for _, s := range derived {
		o.enter(s, derivedNote, at)
	}
	return derived, nil
}

func (o *Order) acceptsItemTransition(to ItemStatus) bool {
	switch o.Status {
	case StatusConfirmed, StatusInProgress:
		return true
	case StatusReady:
		return to == ItemServed
	}
	return false
}

func (o *Order) enter(s Status, note string, at time.Time) {
	o.Status = s
	o.UpdatedAt = at
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: s, Note: note, At: at})
}

// ValidHistory reports whether the recorded history is a path through the
// order state machine starting at PENDING.
func ValidHistory(h []StatusEntry) bool {
	if len(h) == 0 || h[0].Status != StatusPending {
		return false
	}
	for i := 1; i < len(h); i++ {
		if !CanTransition(h[i-1].Status, h[i].Status) {
			return false
		}
	}
	return true
}
