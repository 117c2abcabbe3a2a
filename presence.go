package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/robfig/cron/v3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// display colors are assigned per user by a stable hash so that the same user
// renders in the same color for the whole session
var presencePalette = []string{
	"#ef4444", "#f59e0b", "#10b981", "#3b82f6",
	"#8b5cf6", "#ec4899", "#14b8a6", "#f97316",
}

func ColorForUser(userId Id) string {
	var h uint32
	for _, c := range userId.String() {
		h = h*31 + uint32(c)
	}
	return presencePalette[int(h)%len(presencePalette)]
}

type PresenceSettings struct {
	// entries unrefreshed for longer than this are purged
	LivenessWindow time.Duration
	// the sweep is the sole expiry path. there is no disconnect signal in the
	// platform contract, so a dangling entry can live up to
	// LivenessWindow + SweepInterval before it is reclaimed.
	SweepInterval time.Duration
}

func DefaultPresenceSettings() *PresenceSettings {
	return &PresenceSettings{
		LivenessWindow: 15 * time.Second,
		SweepInterval:  5 * time.Second,
	}
}

type PresenceEntry struct {
	UserId       Id
	Cursor       *Point
	Selection    *Id
	Color        string
	LastSeenTime time.Time
}

type PresenceFunction func(entries []*PresenceEntry)

// ephemeral per-user presence for one project room. liveness is modeled
// purely by timestamp expiry rather than hooking disconnect paths.
//
// cursor-update call sites must self-throttle (about 30ms minimum interval)
// before calling `UpdateLocalPresence`. the tracker imposes no throttling of
// its own, so an unthrottled caller can flood the channel.
type PresenceTracker struct {
	ctx    context.Context
	cancel context.CancelFunc

	manager  *ConnectionManager
	settings *PresenceSettings

	presenceMonitor *CallbackList[PresenceFunction]

	sweeper *cron.Cron
	unsub   func()

	mutex   sync.Mutex
	entries map[Id]*PresenceEntry
}

func NewPresenceTrackerWithDefaults(ctx context.Context, manager *ConnectionManager) *PresenceTracker {
	return NewPresenceTracker(ctx, manager, DefaultPresenceSettings())
}

func NewPresenceTracker(ctx context.Context, manager *ConnectionManager, settings *PresenceSettings) *PresenceTracker {
	cancelCtx, cancel := context.WithCancel(ctx)
	tracker := &PresenceTracker{
		ctx:             cancelCtx,
		cancel:          cancel,
		manager:         manager,
		settings:        settings,
		presenceMonitor: NewCallbackList[PresenceFunction](),
		entries:         map[Id]*PresenceEntry{},
	}
	if manager != nil {
		tracker.unsub = manager.On(EventPresence, tracker.onRemotePresence)
	}
	tracker.sweeper = cron.New()
	tracker.sweeper.AddFunc(fmt.Sprintf("@every %s", settings.SweepInterval), func() {
		tracker.sweep(time.Now())
	})
	tracker.sweeper.Start()
	return tracker
}

func (self *PresenceTracker) AddPresenceCallback(presenceCallback PresenceFunction) func() {
	return self.presenceMonitor.Add(presenceCallback)
}

// fire and forget. a send that races a disconnect is dropped; the next
// throttled update carries the fresh state anyway.
func (self *PresenceTracker) UpdateLocalPresence(cursor *Point, selection *Id) {
	if self.manager == nil {
		return
	}
	err := self.manager.Emit(EventPresence, &PresencePayload{
		ProjectId: self.manager.projectId,
		Cursor:    cursor,
		Selection: selection,
	})
	if err != nil {
		glog.V(2).Infof("[p]presence emit dropped = %s\n", err)
	}
}

func (self *PresenceTracker) onRemotePresence(data json.RawMessage) {
	payload := &PresencePayload{}
	if err := json.Unmarshal(data, payload); err != nil {
		glog.V(2).Infof("[p]drop undecodable presence = %s\n", err)
		return
	}
	self.upsert(payload, time.Now())
	self.notify()
}

// upsert keyed by the remote sender. the last-seen timestamp always
// refreshes; the color is fixed the first time the sender is seen.
func (self *PresenceTracker) upsert(payload *PresencePayload, now time.Time) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entry, ok := self.entries[payload.UserId]
	if !ok {
		entry = &PresenceEntry{
			UserId: payload.UserId,
			Color:  ColorForUser(payload.UserId),
		}
		self.entries[payload.UserId] = entry
	}
	entry.Cursor = payload.Cursor
	entry.Selection = payload.Selection
	entry.LastSeenTime = now
}

func (self *PresenceTracker) Entries() []*PresenceEntry {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	entries := maps.Values(self.entries)
	slices.SortFunc(entries, func(a *PresenceEntry, b *PresenceEntry) int {
		return a.LastSeenTime.Compare(b.LastSeenTime)
	})
	return entries
}

func (self *PresenceTracker) sweep(now time.Time) {
	self.mutex.Lock()
	purged := false
	for userId, entry := range self.entries {
		if self.settings.LivenessWindow < now.Sub(entry.LastSeenTime) {
			delete(self.entries, userId)
			purged = true
		}
	}
	self.mutex.Unlock()

	if purged {
		self.notify()
	}
}

func (self *PresenceTracker) notify() {
	select {
	case <-self.ctx.Done():
		return
	default:
	}
	entries := self.Entries()
	for _, presenceCallback := range self.presenceMonitor.Get() {
		HandleError(func() {
			presenceCallback(entries)
		})
	}
}

func (self *PresenceTracker) Close() {
	self.cancel()
	self.sweeper.Stop()
	if self.unsub != nil {
		self.unsub()
	}
	self.presenceMonitor.Clear()
}
