package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// merge primitives. all three are no-ops when re-applied, which is what makes
// the engine safe under the transport's at-least-once, unordered delivery.
// when nothing changes the original slice is returned so that the rendering
// layer's reference-identity change detection stays quiet.

// insert if absent, otherwise leave the existing entity unchanged
func upsertById[T any](entities []T, entityId func(T) Id, entity T, id Id) ([]T, bool) {
	i := slices.IndexFunc(entities, func(existing T) bool {
		return entityId(existing) == id
	})
	if 0 <= i {
		// already present
		return entities, false
	}
	next := slices.Clone(entities)
	return append(next, entity), true
}

// substitute wholesale if present. an update for an unknown identifier cannot
// be synthesized into a full entity, so it is dropped rather than guessed.
func replaceById[T any](entities []T, entityId func(T) Id, entity T, id Id) ([]T, bool) {
	i := slices.IndexFunc(entities, func(existing T) bool {
		return entityId(existing) == id
	})
	if i < 0 {
		return entities, false
	}
	next := slices.Clone(entities)
	next[i] = entity
	return next, true
}

func removeById[T any](entities []T, entityId func(T) Id, id Id) ([]T, bool) {
	i := slices.IndexFunc(entities, func(existing T) bool {
		return entityId(existing) == id
	})
	if i < 0 {
		// already absent
		return entities, false
	}
	next := slices.Clone(entities)
	return slices.Delete(next, i, i+1), true
}

func classId(class *DomainClass) Id {
	return class.ClassId
}

func relationId(relation *DomainRelation) Id {
	return relation.RelationId
}

// the closed set of entity lifecycle events, as a tagged variant
type ModelEvent struct {
	Event EventName

	// class_created, class_updated
	Class *DomainClass
	// relation_created, relation_updated
	Relation *DomainRelation
	// class_deleted, relation_deleted
	DeletedId Id
}

type SnapshotFunction func(snapshot *ModelSnapshot)

// owns the model snapshot for one open project view. the snapshot is mutated
// only by `Reload` (replace wholesale) and `Apply` (incremental merge); no
// other component touches it. the synchronizer never rejects an event for
// referential integrity: a relation that names a class that has not arrived
// yet is stored as-is.
type ModelSync struct {
	ctx    context.Context
	cancel context.CancelFunc

	snapshotMonitor *CallbackList[SnapshotFunction]

	mutex    sync.Mutex
	snapshot *ModelSnapshot
}

func NewModelSync(ctx context.Context) *ModelSync {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ModelSync{
		ctx:             cancelCtx,
		cancel:          cancel,
		snapshotMonitor: NewCallbackList[SnapshotFunction](),
		snapshot:        &ModelSnapshot{},
	}
}

func (self *ModelSync) Snapshot() *ModelSnapshot {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshot
}

func (self *ModelSync) AddSnapshotCallback(snapshotCallback SnapshotFunction) func() {
	return self.snapshotMonitor.Add(snapshotCallback)
}

// authoritative reload. replaces the snapshot wholesale; an event already
// reflected in the reloaded snapshot is simply superseded by it.
func (self *ModelSync) Reload(snapshot *ModelSnapshot) {
	if snapshot == nil {
		return
	}
	self.mutex.Lock()
	self.snapshot = snapshot
	self.mutex.Unlock()
	self.notify(snapshot)
}

// single reducer for the six lifecycle events. applying the same event twice
// yields the same snapshot as applying it once.
func (self *ModelSync) Apply(modelEvent *ModelEvent) {
	self.mutex.Lock()
	snapshot := self.snapshot
	next := snapshot

	switch modelEvent.Event {
	case EventClassCreated:
		if modelEvent.Class != nil {
			if classes, changed := upsertById(snapshot.Classes, classId, modelEvent.Class, modelEvent.Class.ClassId); changed {
				next = &ModelSnapshot{Classes: classes, Relations: snapshot.Relations}
			}
		}
	case EventClassUpdated:
		if modelEvent.Class != nil {
			if classes, changed := replaceById(snapshot.Classes, classId, modelEvent.Class, modelEvent.Class.ClassId); changed {
				next = &ModelSnapshot{Classes: classes, Relations: snapshot.Relations}
			}
		}
	case EventClassDeleted:
		if classes, changed := removeById(snapshot.Classes, classId, modelEvent.DeletedId); changed {
			next = &ModelSnapshot{Classes: classes, Relations: snapshot.Relations}
		}
	case EventRelationCreated:
		if modelEvent.Relation != nil {
			if relations, changed := upsertById(snapshot.Relations, relationId, modelEvent.Relation, modelEvent.Relation.RelationId); changed {
				next = &ModelSnapshot{Classes: snapshot.Classes, Relations: relations}
			}
		}
	case EventRelationUpdated:
		if modelEvent.Relation != nil {
			if relations, changed := replaceById(snapshot.Relations, relationId, modelEvent.Relation, modelEvent.Relation.RelationId); changed {
				next = &ModelSnapshot{Classes: snapshot.Classes, Relations: relations}
			}
		}
	case EventRelationDeleted:
		if relations, changed := removeById(snapshot.Relations, relationId, modelEvent.DeletedId); changed {
			next = &ModelSnapshot{Classes: snapshot.Classes, Relations: relations}
		}
	default:
		glog.V(2).Infof("[s]ignore event %s\n", modelEvent.Event)
	}

	changed := next != snapshot
	if changed {
		self.snapshot = next
	}
	self.mutex.Unlock()

	if changed {
		self.notify(next)
	}
}

// wires the six lifecycle events from the connection into the reducer.
// returns an unsubscribe for all six.
func (self *ModelSync) Subscribe(manager *ConnectionManager) func() {
	subs := []func(){
		manager.On(EventClassCreated, func(data json.RawMessage) {
			if class := decodeClass(data); class != nil {
				self.Apply(&ModelEvent{Event: EventClassCreated, Class: class})
			}
		}),
		manager.On(EventClassUpdated, func(data json.RawMessage) {
			if class := decodeClass(data); class != nil {
				self.Apply(&ModelEvent{Event: EventClassUpdated, Class: class})
			}
		}),
		manager.On(EventClassDeleted, func(data json.RawMessage) {
			if id, err := decodeDeletedId(data); err == nil {
				self.Apply(&ModelEvent{Event: EventClassDeleted, DeletedId: id})
			}
		}),
		manager.On(EventRelationCreated, func(data json.RawMessage) {
			if relation := decodeRelation(data); relation != nil {
				self.Apply(&ModelEvent{Event: EventRelationCreated, Relation: relation})
			}
		}),
		manager.On(EventRelationUpdated, func(data json.RawMessage) {
			if relation := decodeRelation(data); relation != nil {
				self.Apply(&ModelEvent{Event: EventRelationUpdated, Relation: relation})
			}
		}),
		manager.On(EventRelationDeleted, func(data json.RawMessage) {
			if id, err := decodeDeletedId(data); err == nil {
				self.Apply(&ModelEvent{Event: EventRelationDeleted, DeletedId: id})
			}
		}),
	}
	return func() {
		for _, sub := range subs {
			sub()
		}
	}
}

func (self *ModelSync) notify(snapshot *ModelSnapshot) {
	select {
	case <-self.ctx.Done():
		// torn down. a late event or reload must not reach listeners.
		return
	default:
	}
	for _, snapshotCallback := range self.snapshotMonitor.Get() {
		HandleError(func() {
			snapshotCallback(snapshot)
		})
	}
}

func (self *ModelSync) Close() {
	self.cancel()
	self.snapshotMonitor.Clear()
}

func decodeClass(data json.RawMessage) *DomainClass {
	class := &DomainClass{}
	if err := json.Unmarshal(data, class); err != nil {
		glog.V(2).Infof("[s]drop undecodable class = %s\n", err)
		return nil
	}
	return class
}

func decodeRelation(data json.RawMessage) *DomainRelation {
	relation := &DomainRelation{}
	if err := json.Unmarshal(data, relation); err != nil {
		glog.V(2).Infof("[s]drop undecodable relation = %s\n", err)
		return nil
	}
	return relation
}

// delete events carry the bare identifier on the wire. some platform versions
// wrap it as {"id": ...}, so both forms decode.
func decodeDeletedId(data json.RawMessage) (Id, error) {
	var id Id
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	payload := &DeletePayload{}
	if err := json.Unmarshal(data, payload); err != nil {
		return Id{}, err
	}
	return payload.Id, nil
}
