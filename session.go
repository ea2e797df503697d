package listsync

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Sender transmits one client frame, best effort.
type Sender interface {
	Send(message ClientMessage) bool
}

// called after every reconciled change, with no arguments: renderers
// re-read the grouped view rather than diffing a payload
type ChangeFunction func()

type ListSessionSettings struct {
	DebounceTimeout time.Duration
}

func DefaultListSessionSettings() *ListSessionSettings {
	return &ListSessionSettings{
		DebounceTimeout: 800 * time.Millisecond,
	}
}

// ListSession owns the local state of one open list: the flat item and
// section lists, the per-item snapshots, and the derived grouped view.
// every mutation, locally initiated or pushed by the server, funnels
// through here; each handler runs to completion under one lock and ends
// by re-deriving the grouped view, so the view is never stale relative
// to the item and section lists.
//
// writes to the server are fire-and-forget. the session never tracks
// in-flight writes; the next reconciling `updated` or `initial` from the
// server is the sole recovery path for a lost write.
type ListSession struct {
	sender   Sender
	channel  *ListChannel
	settings *ListSessionSettings
	log      LogFunction

	debouncer       *updateDebouncer
	changeCallbacks *callbackList[ChangeFunction]

	stateMutex sync.Mutex
	listId     Id
	items      []*Item
	sections   []*Section
	snapshots  *snapshotStore
	grouped    *GroupedView
	connected  bool
}

func NewListSessionWithDefaults(sender Sender) *ListSession {
	return NewListSession(sender, DefaultListSessionSettings())
}

func NewListSession(sender Sender, settings *ListSessionSettings) *ListSession {
	session := &ListSession{
		sender:          sender,
		settings:        settings,
		log:             LogFn("[ss]"),
		changeCallbacks: newCallbackList[ChangeFunction](),
		snapshots:       newSnapshotStore(),
		grouped:         ProjectGroups(nil, nil),
	}
	session.debouncer = newUpdateDebouncer(settings.DebounceTimeout, session.commitItem)
	return session
}

// NewListSessionForChannel wires the session to a channel: the channel
// becomes the sender, and inbound events and connectivity transitions
// feed back into the session.
func NewListSessionForChannel(channel *ListChannel, settings *ListSessionSettings) *ListSession {
	session := NewListSession(channel, settings)
	session.channel = channel
	channel.SetReceiveCallback(session.Receive)
	channel.SetConnectivityCallback(session.setConnected)
	return session
}

// Open discards any previous list state and connects the channel, if
// one is attached, to the given list.
func (self *ListSession) Open(listId Id) {
	self.stateMutex.Lock()
	if self.listId != listId {
		self.debouncer.CancelAll()
		self.items = nil
		self.sections = nil
		self.snapshots = newSnapshotStore()
	}
	self.listId = listId
	self.project()
	self.stateMutex.Unlock()

	if self.channel != nil {
		self.channel.Connect(listId)
	}
	self.fireChange()
}

func (self *ListSession) Close() {
	self.debouncer.CancelAll()
	if self.channel != nil {
		self.channel.Disconnect()
	}
}

func (self *ListSession) AddChangeCallback(changeCallback ChangeFunction) func() {
	return self.changeCallbacks.add(changeCallback)
}

// Connected reports the channel connectivity flag for UI feedback.
func (self *ListSession) Connected() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.connected
}

// GroupedView returns the current projection. the returned structure is
// a derived copy: it is safe to read from any goroutine and is not
// updated in place, re-read it on change notifications.
func (self *ListSession) GroupedView() *GroupedView {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.grouped
}

// SectionOrder returns the display order of group names, sentinel last.
func (self *ListSession) SectionOrder() []string {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	names := make([]string, len(self.grouped.SectionNames))
	copy(names, self.grouped.SectionNames)
	return names
}

func (self *ListSession) Sections() []*Section {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	sections := make([]*Section, 0, len(self.sections))
	for _, section := range self.sections {
		sections = append(sections, section.Copy())
	}
	return sections
}

func (self *ListSession) Item(itemId Id) *Item {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	if item := findItem(self.items, itemId); item != nil {
		return item.Copy()
	}
	return nil
}

// SetSections loads the section list in bulk, as on list open.
// sections are owned by the server; this core never creates or deletes
// them, only reorders.
func (self *ListSession) SetSections(sections []*Section) {
	self.stateMutex.Lock()
	next := make([]*Section, 0, len(sections))
	for _, section := range sections {
		next = append(next, section.Copy())
	}
	sortSections(next)
	self.sections = next
	self.project()
	self.stateMutex.Unlock()
	self.fireChange()
}

// user intents

// AddItem inserts an optimistic local item, order appended to its
// section, and sends `add_item`. the item has no id until the server's
// `added` event adopts it.
func (self *ListSession) AddItem(name string, quantity string, notes string, sectionName string) {
	name = normalizeItemName(name)
	if name == "" {
		return
	}

	self.stateMutex.Lock()
	item := &Item{
		Name:     name,
		Quantity: strings.TrimSpace(quantity),
		Notes:    strings.TrimSpace(notes),
		Section:  sectionName,
		Order:    appendOrder(self.items, sectionName, Id{}),
	}
	self.items = append(self.items, item)
	message := &AddItemMessage{
		Name:     item.Name,
		Quantity: item.Quantity,
		Notes:    item.Notes,
		Section:  item.Section,
		Order:    item.Order,
	}
	self.project()
	self.stateMutex.Unlock()

	self.send(message)
	self.fireChange()
}

// EditItem applies an inline edit to the live item and schedules a
// debounced commit. the commit sends whatever the local state holds
// when the quiet period ends.
func (self *ListSession) EditItem(itemId Id, name string, quantity string, notes string) {
	name = normalizeItemName(name)
	if name == "" {
		return
	}

	self.stateMutex.Lock()
	item := findItem(self.items, itemId)
	if item == nil {
		self.stateMutex.Unlock()
		return
	}
	item.Name = name
	item.Quantity = strings.TrimSpace(quantity)
	item.Notes = strings.TrimSpace(notes)
	self.project()
	self.stateMutex.Unlock()

	self.debouncer.QueueUpdate(itemId)
	self.fireChange()
}

// ToggleItem flips the checked flag and commits immediately.
func (self *ListSession) ToggleItem(itemId Id) {
	self.stateMutex.Lock()
	item := findItem(self.items, itemId)
	if item == nil || item.ItemId.IsZero() {
		self.stateMutex.Unlock()
		return
	}
	item.Checked = !item.Checked
	self.snapshots.Update(item)
	message := &CheckItemMessage{
		ItemId:  itemId,
		Checked: item.Checked,
	}
	self.project()
	self.stateMutex.Unlock()

	self.send(message)
	self.fireChange()
}

// DeleteItem removes the item locally and sends `delete_item`.
func (self *ListSession) DeleteItem(itemId Id) {
	if itemId.IsZero() {
		return
	}

	self.stateMutex.Lock()
	if !self.removeItem(itemId) {
		self.stateMutex.Unlock()
		return
	}
	self.snapshots.Remove(itemId)
	self.debouncer.Cancel(itemId)
	self.project()
	self.stateMutex.Unlock()

	self.send(&DeleteItemMessage{ItemId: itemId})
	self.fireChange()
}

// MoveItemToSection rebinds the item's section and commits immediately.
// the commit detects the section change against the snapshot and sends
// the section together with the recomputed order in one frame.
func (self *ListSession) MoveItemToSection(itemId Id, sectionName string) {
	self.stateMutex.Lock()
	item := findItem(self.items, itemId)
	if item == nil || item.ItemId.IsZero() {
		self.stateMutex.Unlock()
		return
	}
	item.Section = sectionName
	self.stateMutex.Unlock()

	self.commitItem(itemId)
}

// ReorderItem drags the item onto another item in the same section: the
// whole section is renumbered 1..n and one `update_item` is sent per
// item, so duplicate or out-of-range orders never accumulate.
func (self *ListSession) ReorderItem(itemId Id, targetItemId Id) {
	self.stateMutex.Lock()
	moved := findItem(self.items, itemId)
	if moved == nil {
		self.stateMutex.Unlock()
		return
	}
	ordered := sectionItems(self.items, moved.Section)
	next, ok := reinsert(ordered, itemId, targetItemId)
	if !ok {
		self.stateMutex.Unlock()
		return
	}
	renumber(next)
	messages := []ClientMessage{}
	for _, item := range next {
		self.snapshots.Update(item)
		if item.ItemId.IsZero() {
			continue
		}
		order := item.Order
		messages = append(messages, &UpdateItemMessage{
			ItemId: item.ItemId,
			Order:  &order,
		})
	}
	self.project()
	self.stateMutex.Unlock()

	for _, message := range messages {
		self.send(message)
	}
	self.fireChange()
}

// ReorderSections swaps the order values of two sections and sends one
// batched `reorder_sections` frame naming both. the local section list
// re-sorts immediately, independent of server acknowledgment.
func (self *ListSession) ReorderSections(sectionId Id, targetSectionId Id) {
	self.stateMutex.Lock()
	a := findSection(self.sections, sectionId)
	b := findSection(self.sections, targetSectionId)
	if a == nil || b == nil || a == b {
		self.stateMutex.Unlock()
		return
	}
	swapOrders(a, b)
	sortSections(self.sections)
	message := &ReorderSectionsMessage{
		Orders: map[string]int{
			a.SectionId.String(): a.Order,
			b.SectionId.String(): b.Order,
		},
	}
	self.project()
	self.stateMutex.Unlock()

	self.send(message)
	self.fireChange()
}

// SortSection alphabetizes one section's items, renumbers them and sends
// one `reorder_items` frame with the new id order.
func (self *ListSession) SortSection(sectionName string) {
	self.stateMutex.Lock()
	section := findSectionByName(self.sections, sectionName)
	if section == nil {
		self.stateMutex.Unlock()
		return
	}
	ordered := sectionItems(self.items, sectionName)
	sortItemsByName(ordered)
	renumber(ordered)
	itemIds := []Id{}
	for _, item := range ordered {
		self.snapshots.Update(item)
		if !item.ItemId.IsZero() {
			itemIds = append(itemIds, item.ItemId)
		}
	}
	message := &ReorderItemsMessage{
		SectionId: section.SectionId,
		ItemIds:   itemIds,
	}
	self.project()
	self.stateMutex.Unlock()

	if 0 < len(itemIds) {
		self.send(message)
	}
	self.fireChange()
}

// ApplyIntent executes a resolved drag/drop intent.
func (self *ListSession) ApplyIntent(intent DragIntent) {
	switch intent.Kind {
	case IntentReorderItem:
		self.ReorderItem(intent.ItemId, intent.TargetItemId)
	case IntentMoveItem:
		self.MoveItemToSection(intent.ItemId, intent.SectionName)
	case IntentReorderSections:
		self.ReorderSections(intent.SectionId, intent.TargetSectionId)
	case IntentNone:
	}
}

// ResolveDrag resolves a gesture against the current state.
func (self *ListSession) ResolveDrag(drag DragDescriptor, drop DropDescriptor) DragIntent {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return ResolveDragIntent(drag, drop, self.items, self.sections)
}

// commitItem is the debounce target. it compares the snapshot's section,
// not the live one, against the item's current section: the live value
// may already have been rebound by the same user action, the snapshot is
// the only trustworthy "before" state. a detected move appends the item
// into its destination section and the section and order travel in the
// same `update_item` frame as the edited fields.
func (self *ListSession) commitItem(itemId Id) {
	self.debouncer.Cancel(itemId)

	self.stateMutex.Lock()
	item := findItem(self.items, itemId)
	if item == nil || item.ItemId.IsZero() {
		self.stateMutex.Unlock()
		return
	}

	name := item.Name
	quantity := item.Quantity
	notes := item.Notes
	message := &UpdateItemMessage{
		ItemId:   itemId,
		Name:     &name,
		Quantity: &quantity,
		Notes:    &notes,
	}

	moved := false
	if snapshot := self.snapshots.Get(itemId); snapshot != nil && snapshot.Section != item.Section {
		item.Order = appendOrder(self.items, item.Section, itemId)
		section := item.Section
		order := item.Order
		message.Section = &section
		message.Order = &order
		moved = true
	}
	self.snapshots.Update(item)
	if moved {
		self.project()
	}
	self.stateMutex.Unlock()

	self.send(message)
	if moved {
		self.fireChange()
	}
}

// Receive reconciles one inbound server event. called synchronously
// from the channel read loop, in arrival order. all effects are
// idempotent under re-delivery.
func (self *ListSession) Receive(event Event) {
	self.stateMutex.Lock()
	switch v := event.(type) {
	case *InitialEvent:
		self.applyInitial(v)
	case *AddedEvent:
		self.applyAdded(v)
	case *UpdatedEvent:
		self.applyUpdated(v)
	case *DeletedEvent:
		self.applyDeleted(v)
	case *SectionsReorderedEvent:
		self.applySectionsReordered(v)
	}
	self.project()
	self.stateMutex.Unlock()
	self.fireChange()
}

func (self *ListSession) applyInitial(event *InitialEvent) {
	self.log("initial %d items", len(event.Items))
	next := make([]*Item, 0, len(event.Items))
	for _, item := range event.Items {
		if item == nil {
			continue
		}
		next = append(next, item.Copy())
	}
	self.items = next
	self.snapshots.Reset(self.items)
}

func (self *ListSession) applyAdded(event *AddedEvent) {
	if event.Item == nil || event.Item.ItemId.IsZero() {
		return
	}
	inbound := event.Item.Copy()
	if existing := findItem(self.items, inbound.ItemId); existing != nil {
		// duplicate delivery, filtered by identifier
		self.snapshots.Update(inbound)
		return
	}
	// adopt a pending optimistic add by name, otherwise append
	for i, item := range self.items {
		if item.ItemId.IsZero() && item.Name == inbound.Name {
			self.items[i] = inbound
			self.snapshots.Update(inbound)
			return
		}
	}
	self.items = append(self.items, inbound)
	self.snapshots.Update(inbound)
}

func (self *ListSession) applyUpdated(event *UpdatedEvent) {
	if event.Item == nil || event.Item.ItemId.IsZero() {
		return
	}
	inbound := event.Item.Copy()
	replaced := false
	for i, item := range self.items {
		if item.ItemId == inbound.ItemId {
			self.items[i] = inbound
			replaced = true
			break
		}
	}
	if !replaced {
		// an unknown `updated` is treated as an add
		self.items = append(self.items, inbound)
	}
	self.snapshots.Update(inbound)
}

func (self *ListSession) applyDeleted(event *DeletedEvent) {
	// removing an absent identifier is a safe no-op
	self.removeItem(event.ItemId)
	self.snapshots.Remove(event.ItemId)
	self.debouncer.Cancel(event.ItemId)
}

func (self *ListSession) applySectionsReordered(event *SectionsReorderedEvent) {
	for _, sectionOrder := range event.Sections {
		if section := findSection(self.sections, sectionOrder.SectionId); section != nil {
			section.Order = sectionOrder.Order
		}
	}
	sortSections(self.sections)
}

func (self *ListSession) removeItem(itemId Id) bool {
	for i, item := range self.items {
		if item.ItemId == itemId {
			self.items = append(self.items[0:i], self.items[i+1:]...)
			return true
		}
	}
	return false
}

// project re-derives the grouped view from copies of the live items, so
// that view readers never observe later in-place edits. must hold
// stateMutex.
func (self *ListSession) project() {
	itemsCopy := make([]*Item, 0, len(self.items))
	for _, item := range self.items {
		itemsCopy = append(itemsCopy, item.Copy())
	}
	self.grouped = ProjectGroups(itemsCopy, self.sections)
}

func (self *ListSession) setConnected(connected bool) {
	self.stateMutex.Lock()
	self.connected = connected
	self.stateMutex.Unlock()
	self.fireChange()
}

func (self *ListSession) send(message ClientMessage) {
	if self.sender == nil {
		return
	}
	self.sender.Send(message)
}

func (self *ListSession) fireChange() {
	for _, changeCallback := range self.changeCallbacks.get() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Infof("[ss]change callback panic = %v\n", r)
				}
			}()
			changeCallback()
		}()
	}
}

func normalizeItemName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	runes := []rune(name)
	return strings.ToUpper(string(runes[0:1])) + strings.ToLower(string(runes[1:]))
}

