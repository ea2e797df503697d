package listsync

// drag/drop intent resolution, separated from input capture so the
// allocator and reconciliation paths are testable without a rendering
// surface. the resolver is a pure function of (drag, drop, current
// state); mutation happens only through the session.

type DragDescriptor struct {
	// exactly one of ItemId / SectionId is set
	ItemId    Id
	SectionId Id
}

type DropDescriptor struct {
	// drop on an item, on a section container, or on nothing
	ItemId      Id
	SectionName string
	None        bool
}

type DragIntentKind int

const (
	IntentNone DragIntentKind = iota
	IntentReorderItem
	IntentMoveItem
	IntentReorderSections
)

type DragIntent struct {
	Kind DragIntentKind

	// IntentReorderItem
	ItemId       Id
	TargetItemId Id

	// IntentMoveItem
	SectionName string

	// IntentReorderSections
	SectionId       Id
	TargetSectionId Id
}

var noIntent = DragIntent{Kind: IntentNone}

// ResolveDragIntent maps a gesture to exactly one intent.
// ambiguous or self-targeting gestures resolve to IntentNone.
func ResolveDragIntent(drag DragDescriptor, drop DropDescriptor, items []*Item, sections []*Section) DragIntent {
	if drop.None {
		return noIntent
	}

	if !drag.ItemId.IsZero() {
		return resolveItemDrag(drag.ItemId, drop, items, sections)
	}
	if !drag.SectionId.IsZero() {
		return resolveSectionDrag(drag.SectionId, drop, sections)
	}
	return noIntent
}

func resolveItemDrag(itemId Id, drop DropDescriptor, items []*Item, sections []*Section) DragIntent {
	dragged := findItem(items, itemId)
	if dragged == nil {
		return noIntent
	}

	if !drop.ItemId.IsZero() {
		if drop.ItemId == itemId {
			// drop on self
			return noIntent
		}
		target := findItem(items, drop.ItemId)
		if target == nil {
			return noIntent
		}
		if target.Section == dragged.Section {
			return DragIntent{
				Kind:         IntentReorderItem,
				ItemId:       itemId,
				TargetItemId: drop.ItemId,
			}
		}
		// dropped onto an item of another section: move there, appended
		return DragIntent{
			Kind:        IntentMoveItem,
			ItemId:      itemId,
			SectionName: target.Section,
		}
	}

	if drop.SectionName != "" {
		if drop.SectionName == dragged.Section {
			// already owned by the target section
			return noIntent
		}
		if drop.SectionName != UnsectionedName && findSectionByName(sections, drop.SectionName) == nil {
			return noIntent
		}
		destination := drop.SectionName
		if destination == UnsectionedName && findSectionByName(sections, UnsectionedName) == nil {
			// the sentinel container maps to "no section"
			destination = ""
		}
		if destination == dragged.Section {
			return noIntent
		}
		return DragIntent{
			Kind:        IntentMoveItem,
			ItemId:      itemId,
			SectionName: destination,
		}
	}

	return noIntent
}

func resolveSectionDrag(sectionId Id, drop DropDescriptor, sections []*Section) DragIntent {
	if findSection(sections, sectionId) == nil {
		return noIntent
	}
	// section drags only resolve against section containers
	if drop.SectionName == "" || drop.SectionName == UnsectionedName {
		return noIntent
	}
	target := findSectionByName(sections, drop.SectionName)
	if target == nil || target.SectionId == sectionId {
		return noIntent
	}
	return DragIntent{
		Kind:            IntentReorderSections,
		SectionId:       sectionId,
		TargetSectionId: target.SectionId,
	}
}

func findItem(items []*Item, itemId Id) *Item {
	for _, item := range items {
		if item.ItemId == itemId {
			return item
		}
	}
	return nil
}

func findSection(sections []*Section, sectionId Id) *Section {
	for _, section := range sections {
		if section.SectionId == sectionId {
			return section
		}
	}
	return nil
}

func findSectionByName(sections []*Section, name string) *Section {
	for _, section := range sections {
		if section.Name == name {
			return section
		}
	}
	return nil
}
