package ordering

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrIndexOutOfRange is returned when a move references an index outside the
	// collection.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrDuplicatePosition is returned when two siblings share a position.
	ErrDuplicatePosition = errors.New("duplicate position")
	// ErrPositionGap is returned when positions are not contiguous from zero.
	ErrPositionGap = errors.New("positions are not contiguous")
	// ErrUnknownItem is returned when an update references an id that is not part
	// of the collection.
	ErrUnknownItem = errors.New("unknown item")
)

// Orderable is implemented by entities ranked inside a parent collection.
// WithPosition must return a copy and leave the receiver untouched.
type Orderable[T any] interface {
	OrderKey() string
	OrderPosition() int
	WithPosition(position int) T
}

// PositionUpdate is the wire shape of a single reorder instruction.
type PositionUpdate struct {
	ID          string `json:"id"`
	NewPosition int    `json:"newPosition"`
}

// Reorder relocates the element at from to index to and renumbers every
// element so positions match indices. The input slice is not modified.
func Reorder[T Orderable[T]](items []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return nil, fmt.Errorf("move %d -> %d in collection of %d: %w", from, to, len(items), ErrIndexOutOfRange)
	}

	out := make([]T, 0, len(items))
	moved := items[from]
	for i, item := range items {
		if i == from {
			continue
		}
		out = append(out, item)
	}
	// insert at to, shifting the tail right
	out = append(out, moved)
	copy(out[to+1:], out[to:len(out)-1])
	out[to] = moved

	return Renumber(out), nil
}

// Renumber returns a copy of items with positions set to their indices.
func Renumber[T Orderable[T]](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		if item.OrderPosition() == i {
			out[i] = item
			continue
		}
		out[i] = item.WithPosition(i)
	}
	return out
}

// Updates lists the position of every item.
func Updates[T Orderable[T]](items []T) []PositionUpdate {
	updates := make([]PositionUpdate, len(items))
	for i, item := range items {
		updates[i] = PositionUpdate{ID: item.OrderKey(), NewPosition: item.OrderPosition()}
	}
	return updates
}

// ChangedUpdates lists only the items of after whose position differs from
// before. Items absent from before are always included.
func ChangedUpdates[T Orderable[T]](before, after []T) []PositionUpdate {
	previous := make(map[string]int, len(before))
	for _, item := range before {
		previous[item.OrderKey()] = item.OrderPosition()
	}

	var updates []PositionUpdate
	for _, item := range after {
		if pos, ok := previous[item.OrderKey()]; ok && pos == item.OrderPosition() {
			continue
		}
		updates = append(updates, PositionUpdate{ID: item.OrderKey(), NewPosition: item.OrderPosition()})
	}
	return updates
}

// Validate checks that the positions of items are exactly 0..n-1.
func Validate[T Orderable[T]](items []T) error {
	seen := make(map[int]string, len(items))
	for _, item := range items {
		pos := item.OrderPosition()
		if other, ok := seen[pos]; ok {
			return fmt.Errorf("%s and %s at %d: %w", other, item.OrderKey(), pos, ErrDuplicatePosition)
		}
		if pos < 0 || pos >= len(items) {
			return fmt.Errorf("%s at %d with %d siblings: %w", item.OrderKey(), pos, len(items), ErrPositionGap)
		}
		seen[pos] = item.OrderKey()
	}
	return nil
}

// Sort returns a copy of items ordered by position, ties broken by key.
func Sort[T Orderable[T]](items []T) []T {
	out := append([]T(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderPosition() != out[j].OrderPosition() {
			return out[i].OrderPosition() < out[j].OrderPosition()
		}
		return out[i].OrderKey() < out[j].OrderKey()
	})
	return out
}

// Apply folds a possibly partial list of updates into the collection and
// returns it sorted by the new positions. The result must satisfy Validate.
func Apply[T Orderable[T]](items []T, updates []PositionUpdate) ([]T, error) {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.OrderKey()] = i
	}

	out := append([]T(nil), items...)
	for _, u := range updates {
		i, ok := index[u.ID]
		if !ok {
			return nil, fmt.Errorf("%s: %w", u.ID, ErrUnknownItem)
		}
		out[i] = out[i].WithPosition(u.NewPosition)
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return Sort(out), nil
}

// Remove drops the item with the given key and compacts positions.
func Remove[T Orderable[T]](items []T, key string) ([]T, bool) {
	out := make([]T, 0, len(items))
	var found bool
	for _, item := range items {
		if item.OrderKey() == key {
			found = true
			continue
		}
		out = append(out, item)
	}
	if !found {
		return items, false
	}
	return Renumber(out), true
}

// Upsert replaces the item sharing the key of item, or appends it at the end
// of the collection.
func Upsert[T Orderable[T]](items []T, item T) []T {
	out := append([]T(nil), items...)
	for i, existing := range out {
		if existing.OrderKey() == item.OrderKey() {
			out[i] = item.WithPosition(existing.OrderPosition())
			return out
		}
	}
	return append(out, item.WithPosition(len(out)))
}

// Keys returns the keys of items in slice order.
func Keys[T Orderable[T]](items []T) []string {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.OrderKey()
	}
	return keys
}
