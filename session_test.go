package listsync

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type recordingSender struct {
	mutex    sync.Mutex
	messages []ClientMessage
}

func (self *recordingSender) Send(message ClientMessage) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.messages = append(self.messages, message)
	return true
}

func (self *recordingSender) All() []ClientMessage {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	out := make([]ClientMessage, len(self.messages))
	copy(out, self.messages)
	return out
}

func (self *recordingSender) Updates() []*UpdateItemMessage {
	updates := []*UpdateItemMessage{}
	for _, message := range self.All() {
		if update, ok := message.(*UpdateItemMessage); ok {
			updates = append(updates, update)
		}
	}
	return updates
}

func (self *recordingSender) Reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.messages = nil
}

func newTestSession(debounceTimeout time.Duration) (*ListSession, *recordingSender) {
	sender := &recordingSender{}
	session := NewListSession(sender, &ListSessionSettings{
		DebounceTimeout: debounceTimeout,
	})
	return session, sender
}

func seedSections(session *ListSession, names ...string) []*Section {
	sections := []*Section{}
	for i, name := range names {
		sections = append(sections, &Section{
			SectionId: NewId(),
			Name:      name,
			Order:     i + 1,
		})
	}
	session.SetSections(sections)
	return sections
}

func seedItems(session *ListSession, items ...*Item) {
	session.Receive(&InitialEvent{Items: items})
}

func TestDebounceCoalescing(t *testing.T) {
	session, sender := newTestSession(100 * time.Millisecond)
	itemId := NewId()
	seedItems(session, &Item{ItemId: itemId, Name: "Milk", Section: "Dairy", Order: 1})
	seedSections(session, "Dairy")
	sender.Reset()

	session.EditItem(itemId, "Milk a", "", "")
	session.EditItem(itemId, "Milk b", "", "")
	session.EditItem(itemId, "Milk c", "1l", "semi-skimmed")

	// nothing sent inside the quiet window
	assert.Equal(t, 0, len(sender.All()))

	time.Sleep(300 * time.Millisecond)

	updates := sender.Updates()
	assert.Equal(t, 1, len(updates))
	assert.Equal(t, "Milk c", *updates[0].Name)
	assert.Equal(t, "1l", *updates[0].Quantity)
	assert.Equal(t, "semi-skimmed", *updates[0].Notes)
	// no section change: the frame carries no section or order
	assert.Equal(t, updates[0].Section, nil)
	assert.Equal(t, updates[0].Order, nil)
}

func TestDebounceIgnoresPendingItems(t *testing.T) {
	session, sender := newTestSession(50 * time.Millisecond)
	seedSections(session, "Dairy")
	sender.Reset()

	// an optimistic add has no id yet: edits to it cannot commit
	session.AddItem("milk", "", "", "Dairy")
	assert.Equal(t, 1, len(sender.All()))

	session.EditItem(Id{}, "Milk again", "", "")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, len(sender.All()))
}

func TestAddItemAppendsOrder(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	seedSections(session, "Produce")
	seedItems(session,
		&Item{ItemId: NewId(), Name: "Apples", Section: "Produce", Order: 4},
	)
	sender.Reset()

	session.AddItem("pears", "", "", "Produce")

	all := sender.All()
	assert.Equal(t, 1, len(all))
	add := all[0].(*AddItemMessage)
	assert.Equal(t, "Pears", add.Name)
	assert.Equal(t, 5, add.Order)

	// empty section starts at 1
	session.AddItem("bread", "", "", "Bakery")
	add = sender.All()[1].(*AddItemMessage)
	assert.Equal(t, 1, add.Order)
}

func TestAddedEventAdoptsPendingItem(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	seedSections(session, "Produce")
	sender.Reset()

	session.AddItem("pears", "", "", "Produce")
	assert.Equal(t, 1, session.GroupedView().Count())

	serverId := NewId()
	session.Receive(&AddedEvent{
		Item: &Item{ItemId: serverId, Name: "Pears", Section: "Produce", Order: 1},
	})

	// the acknowledged item replaced the pending one instead of duplicating
	assert.Equal(t, 1, session.GroupedView().Count())
	assert.NotEqual(t, session.Item(serverId), nil)

	// re-delivery is filtered by identifier
	session.Receive(&AddedEvent{
		Item: &Item{ItemId: serverId, Name: "Pears", Section: "Produce", Order: 1},
	})
	assert.Equal(t, 1, session.GroupedView().Count())
}

func TestFullRenumberOnReorder(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	seedSections(session, "Produce")
	a := &Item{ItemId: NewId(), Name: "A", Section: "Produce", Order: 1}
	b := &Item{ItemId: NewId(), Name: "B", Section: "Produce", Order: 2}
	c := &Item{ItemId: NewId(), Name: "C", Section: "Produce", Order: 3}
	seedItems(session, a, b, c)
	sender.Reset()

	session.ReorderItem(c.ItemId, a.ItemId)

	group := session.GroupedView().Group("Produce")
	assert.Equal(t, "C", group[0].Name)
	assert.Equal(t, "A", group[1].Name)
	assert.Equal(t, "B", group[2].Name)
	assert.Equal(t, 1, group[0].Order)
	assert.Equal(t, 2, group[1].Order)
	assert.Equal(t, 3, group[2].Order)

	// the whole section is renumbered: exactly one update per item
	updates := sender.Updates()
	assert.Equal(t, 3, len(updates))
	for _, update := range updates {
		assert.NotEqual(t, update.Order, nil)
	}
}

func TestCrossSectionMoveSingleFrame(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	seedSections(session, "Produce", "Dairy")
	x := &Item{ItemId: NewId(), Name: "X", Section: "Produce", Order: 1}
	y := &Item{ItemId: NewId(), Name: "Y", Section: "Produce", Order: 2}
	seedItems(session, x, y)
	sender.Reset()

	session.MoveItemToSection(x.ItemId, "Dairy")

	// the move and the order assignment travel in one frame, not two
	all := sender.All()
	assert.Equal(t, 1, len(all))
	update := all[0].(*UpdateItemMessage)
	assert.Equal(t, "Dairy", *update.Section)
	assert.Equal(t, 1, *update.Order)

	moved := session.Item(x.ItemId)
	assert.Equal(t, "Dairy", moved.Section)
	assert.Equal(t, 1, moved.Order)
}

func TestMoveDetectionUsesSnapshotNotLiveValue(t *testing.T) {
	session, sender := newTestSession(50 * time.Millisecond)
	seedSections(session, "Produce", "Dairy")
	x := &Item{ItemId: NewId(), Name: "X", Section: "Produce", Order: 1}
	seedItems(session, x)
	sender.Reset()

	// the edit rebinds the live section before the commit fires; the
	// snapshot still holds "Produce" so the commit detects the move
	session.EditItem(x.ItemId, "X", "", "")
	session.MoveItemToSection(x.ItemId, "Dairy")

	all := sender.All()
	assert.Equal(t, 1, len(all))
	update := all[0].(*UpdateItemMessage)
	assert.Equal(t, "Dairy", *update.Section)

	// a second commit without further section changes sends no section
	sender.Reset()
	session.EditItem(x.ItemId, "X again", "", "")
	time.Sleep(150 * time.Millisecond)
	updates := sender.Updates()
	assert.Equal(t, 1, len(updates))
	assert.Equal(t, updates[0].Section, nil)
}

func TestToggleItem(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	x := &Item{ItemId: NewId(), Name: "X", Section: "Produce", Order: 1}
	seedItems(session, x)
	sender.Reset()

	session.ToggleItem(x.ItemId)
	all := sender.All()
	assert.Equal(t, 1, len(all))
	check := all[0].(*CheckItemMessage)
	assert.Equal(t, true, check.Checked)
	assert.Equal(t, true, session.Item(x.ItemId).Checked)

	session.ToggleItem(x.ItemId)
	check = sender.All()[1].(*CheckItemMessage)
	assert.Equal(t, false, check.Checked)
}

func TestIdempotentDelete(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	x := &Item{ItemId: NewId(), Name: "X", Section: "Produce", Order: 1}
	y := &Item{ItemId: NewId(), Name: "Y", Section: "Produce", Order: 2}
	seedItems(session, x, y)
	sender.Reset()

	session.Receive(&DeletedEvent{ItemId: x.ItemId})
	assert.Equal(t, 1, session.GroupedView().Count())

	// re-delivery leaves state unchanged, no error
	session.Receive(&DeletedEvent{ItemId: x.ItemId})
	assert.Equal(t, 1, session.GroupedView().Count())
	assert.NotEqual(t, session.Item(y.ItemId), nil)
}

func TestUnknownUpdatedIsDefensiveAdd(t *testing.T) {
	session, _ := newTestSession(time.Hour)
	seedItems(session)

	unknownId := NewId()
	session.Receive(&UpdatedEvent{
		Item: &Item{ItemId: unknownId, Name: "Surprise", Order: 1},
	})

	assert.NotEqual(t, session.Item(unknownId), nil)
	assert.Equal(t, 1, session.GroupedView().Count())
}

func TestUpdatedReplacesInPlace(t *testing.T) {
	session, _ := newTestSession(time.Hour)
	x := &Item{ItemId: NewId(), Name: "X", Section: "Produce", Order: 1}
	seedItems(session, x)

	session.Receive(&UpdatedEvent{
		Item: &Item{ItemId: x.ItemId, Name: "X renamed", Section: "Produce", Order: 1, Checked: true},
	})

	got := session.Item(x.ItemId)
	assert.Equal(t, "X renamed", got.Name)
	assert.Equal(t, true, got.Checked)
	assert.Equal(t, 1, session.GroupedView().Count())
}

func TestSectionReorderSwap(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	sections := seedSections(session, "Produce", "Dairy")
	sender.Reset()

	session.ReorderSections(sections[0].SectionId, sections[1].SectionId)

	// orders (1, 2) become (2, 1) and the display order follows at once
	assert.Equal(t, []string{"Dairy", "Produce", UnsectionedName}, session.SectionOrder())

	all := sender.All()
	assert.Equal(t, 1, len(all))
	reorder := all[0].(*ReorderSectionsMessage)
	assert.Equal(t, 2, len(reorder.Orders))
	assert.Equal(t, 2, reorder.Orders[sections[0].SectionId.String()])
	assert.Equal(t, 1, reorder.Orders[sections[1].SectionId.String()])
}

func TestSectionsReorderedEvent(t *testing.T) {
	session, _ := newTestSession(time.Hour)
	sections := seedSections(session, "Produce", "Dairy")

	session.Receive(&SectionsReorderedEvent{
		Sections: []SectionOrder{
			{SectionId: sections[0].SectionId, Order: 2},
			{SectionId: sections[1].SectionId, Order: 1},
			{SectionId: NewId(), Order: 9}, // unknown section, ignored
		},
	})

	assert.Equal(t, []string{"Dairy", "Produce", UnsectionedName}, session.SectionOrder())
}

func TestSortSection(t *testing.T) {
	session, sender := newTestSession(time.Hour)
	sections := seedSections(session, "Produce")
	seedItems(session,
		&Item{ItemId: NewId(), Name: "Pears", Section: "Produce", Order: 1},
		&Item{ItemId: NewId(), Name: "apples", Section: "Produce", Order: 2},
	)
	sender.Reset()

	session.SortSection("Produce")

	group := session.GroupedView().Group("Produce")
	assert.Equal(t, "apples", group[0].Name)
	assert.Equal(t, "Pears", group[1].Name)

	all := sender.All()
	assert.Equal(t, 1, len(all))
	reorder := all[0].(*ReorderItemsMessage)
	assert.Equal(t, sections[0].SectionId, reorder.SectionId)
	assert.Equal(t, 2, len(reorder.ItemIds))
}

func TestInitialReplacesState(t *testing.T) {
	session, _ := newTestSession(time.Hour)
	seedItems(session,
		&Item{ItemId: NewId(), Name: "Old", Section: "Produce", Order: 1},
	)

	next := &Item{ItemId: NewId(), Name: "New", Section: "Produce", Order: 1}
	session.Receive(&InitialEvent{Items: []*Item{next}})

	assert.Equal(t, 1, session.GroupedView().Count())
	assert.NotEqual(t, session.Item(next.ItemId), nil)
}

func TestChangeCallbackFires(t *testing.T) {
	session, _ := newTestSession(time.Hour)

	changes := 0
	remove := session.AddChangeCallback(func() {
		changes += 1
	})

	seedItems(session, &Item{ItemId: NewId(), Name: "X", Order: 1})
	assert.Equal(t, 1, changes)

	remove()
	seedItems(session, &Item{ItemId: NewId(), Name: "Y", Order: 1})
	assert.Equal(t, 1, changes)
}
