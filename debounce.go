package listsync

import (
	"sync"
	"time"
)

type commitFunction func(itemId Id)

// updateDebouncer coalesces rapid edits to the same item into one commit.
// trailing edge, per item: each QueueUpdate for an id cancels and restarts
// that id's timer, so the commit runs once per quiet period with the last
// edit's values. global edits to different items do not interact.
type updateDebouncer struct {
	timeout time.Duration
	commit  commitFunction
	log     LogFunction

	mutex  sync.Mutex
	timers map[Id]*time.Timer
}

func newUpdateDebouncer(timeout time.Duration, commit commitFunction) *updateDebouncer {
	return &updateDebouncer{
		timeout: timeout,
		commit:  commit,
		log:     LogFn("[db]"),
		timers:  map[Id]*time.Timer{},
	}
}

// QueueUpdate schedules a commit after the quiet period measured from the
// last call for the same id. items with no server id yet cannot be
// updated, so scheduling them is a no-op.
func (self *updateDebouncer) QueueUpdate(itemId Id) {
	if itemId.IsZero() {
		return
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	if timer, ok := self.timers[itemId]; ok {
		timer.Stop()
	}
	self.log("queue %s", itemId)
	self.timers[itemId] = time.AfterFunc(self.timeout, func() {
		self.fire(itemId)
	})
}

func (self *updateDebouncer) fire(itemId Id) {
	self.mutex.Lock()
	delete(self.timers, itemId)
	self.mutex.Unlock()

	self.log("commit %s", itemId)
	self.commit(itemId)
}

// Cancel drops any pending commit for the id.
func (self *updateDebouncer) Cancel(itemId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if timer, ok := self.timers[itemId]; ok {
		timer.Stop()
		delete(self.timers, itemId)
	}
}

// CancelAll drops every pending commit, as when the session state is
// discarded for a different list.
func (self *updateDebouncer) CancelAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	for itemId, timer := range self.timers {
		timer.Stop()
		delete(self.timers, itemId)
	}
}
