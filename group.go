package listsync

import (
	"golang.org/x/exp/slices"
)

// GroupedView is the derived, read-only projection of items into ordered
// per-section lists. it is re-derived after every state change and never
// mutated directly.
type GroupedView struct {
	// section name (including the unsectioned sentinel) -> items
	// ascending by order
	Groups map[string][]*Item
	// display order of the group names. the sentinel sorts last unless a
	// real section claims the name.
	SectionNames []string
}

// ProjectGroups derives the grouped view from the flat item and section
// lists. pure and repeatable: no side effects, safe to re-run on every
// change. every item lands in exactly one group; items referencing an
// unknown section fall back to the sentinel rather than erroring, and
// sections with zero items still project as empty groups.
func ProjectGroups(items []*Item, sections []*Section) *GroupedView {
	groups := map[string][]*Item{}
	sectionNames := []string{}
	for _, section := range sections {
		if _, ok := groups[section.Name]; ok {
			continue
		}
		groups[section.Name] = []*Item{}
		sectionNames = append(sectionNames, section.Name)
	}
	if _, ok := groups[UnsectionedName]; !ok {
		groups[UnsectionedName] = []*Item{}
		sectionNames = append(sectionNames, UnsectionedName)
	}

	for _, item := range items {
		name := item.Section
		if name == "" {
			name = UnsectionedName
		}
		if _, ok := groups[name]; !ok {
			// unknown section reference
			name = UnsectionedName
		}
		groups[name] = append(groups[name], item)
	}

	for _, group := range groups {
		slices.SortStableFunc(group, func(a *Item, b *Item) int {
			if a.Order < b.Order {
				return -1
			} else if b.Order < a.Order {
				return 1
			} else {
				return 0
			}
		})
	}

	return &GroupedView{
		Groups:       groups,
		SectionNames: sectionNames,
	}
}

// Count returns the total number of items across all groups.
func (self *GroupedView) Count() int {
	count := 0
	for _, group := range self.Groups {
		count += len(group)
	}
	return count
}

// Group returns the ordered items for one group name, or nil.
func (self *GroupedView) Group(name string) []*Item {
	return self.Groups[name]
}
