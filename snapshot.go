package listsync

// snapshotStore remembers the last known server-committed shape of each
// item, by value, keyed by item id. a snapshot exists for every
// server-confirmed item known locally and is refreshed on every
// state-changing event, local commit or inbound push.
//
// the snapshot is the only trustworthy "before" state for section-change
// detection: the live item may already carry the new section by the time
// the commit fires, because edits bind directly to the live object.
type snapshotStore struct {
	snapshots map[Id]*Item
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{
		snapshots: map[Id]*Item{},
	}
}

// Update stores a fresh copy of the item. items without a server id are
// not snapshotted.
func (self *snapshotStore) Update(item *Item) {
	if item.ItemId.IsZero() {
		return
	}
	self.snapshots[item.ItemId] = item.Copy()
}

func (self *snapshotStore) Get(itemId Id) *Item {
	return self.snapshots[itemId]
}

func (self *snapshotStore) Remove(itemId Id) {
	delete(self.snapshots, itemId)
}

// Reset rebuilds the store from scratch, as on an `initial` event.
func (self *snapshotStore) Reset(items []*Item) {
	self.snapshots = map[Id]*Item{}
	for _, item := range items {
		self.Update(item)
	}
}
