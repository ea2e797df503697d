package listsync

import (
	"strings"

	"golang.org/x/exp/slices"
)

// ordering helpers. orders are 1-based and advisory: only the relative
// order within a section matters, gaps are tolerated, and equal or
// missing orders compare stably in current list order (never an error).

// sectionItems returns the items owned by the named section, ascending by
// order. missing orders are treated as 0. the sort is stable so equal
// orders keep their current relative position.
func sectionItems(items []*Item, sectionName string) []*Item {
	owned := []*Item{}
	for _, item := range items {
		if item.Section == sectionName {
			owned = append(owned, item)
		}
	}
	slices.SortStableFunc(owned, func(a *Item, b *Item) int {
		if a.Order < b.Order {
			return -1
		} else if b.Order < a.Order {
			return 1
		} else {
			return 0
		}
	})
	return owned
}

// appendOrder computes the order for an item appended to the named
// section: one past the max order present, or 1 for an empty section.
// `excludeItemId` keeps an item being moved into the section from
// counting its own stale order.
func appendOrder(items []*Item, sectionName string, excludeItemId Id) int {
	maxOrder := 0
	for _, item := range items {
		if item.Section != sectionName {
			continue
		}
		if !excludeItemId.IsZero() && item.ItemId == excludeItemId {
			continue
		}
		if maxOrder < item.Order {
			maxOrder = item.Order
		}
	}
	return maxOrder + 1
}

// renumber assigns orders 1..n to the given sequence in place.
// a full renumber after a positional drag guarantees no duplicate or
// out-of-range orders accumulate.
func renumber(ordered []*Item) {
	for i, item := range ordered {
		item.Order = i + 1
	}
}

// reinsert removes the moved item from the sequence and reinserts it at
// the target item's index. ok is false when either item is missing or
// the move targets itself.
func reinsert(ordered []*Item, movedItemId Id, targetItemId Id) ([]*Item, bool) {
	if movedItemId == targetItemId {
		return ordered, false
	}
	movedIndex := slices.IndexFunc(ordered, func(item *Item) bool {
		return item.ItemId == movedItemId
	})
	if movedIndex < 0 {
		return ordered, false
	}
	moved := ordered[movedIndex]
	without := slices.Delete(slices.Clone(ordered), movedIndex, movedIndex+1)
	targetIndex := slices.IndexFunc(without, func(item *Item) bool {
		return item.ItemId == targetItemId
	})
	if targetIndex < 0 {
		return ordered, false
	}
	return slices.Insert(without, targetIndex, moved), true
}

// sortItemsByName alphabetizes a sequence case-insensitively, stable.
func sortItemsByName(items []*Item) {
	slices.SortStableFunc(items, func(a *Item, b *Item) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}

// swapOrders exchanges the order values of two sections.
// section reorder is a two-element swap, not a full renumber.
func swapOrders(a *Section, b *Section) {
	a.Order, b.Order = b.Order, a.Order
}

// sortSections re-sorts the section list ascending by order, stable.
func sortSections(sections []*Section) {
	slices.SortStableFunc(sections, func(a *Section, b *Section) int {
		if a.Order < b.Order {
			return -1
		} else if b.Order < a.Order {
			return 1
		} else {
			return 0
		}
	})
}
