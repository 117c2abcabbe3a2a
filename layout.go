package realtime

import (
	"math"
	"sync"

	"golang.org/x/exp/maps"
)

const (
	gridSpacingX = 320
	gridSpacingY = 240
)

// deterministic default so that newly appearing classes never stack at the
// origin. cell layout: square-ish grid, row major.
func ComputeGridPosition(index int, total int) Point {
	if total == 0 {
		return Point{}
	}
	columns := int(math.Max(1, math.Ceil(math.Sqrt(float64(total)))))
	row := index / columns
	column := index % columns
	return Point{
		X: float64(column * gridSpacingX),
		Y: float64(row * gridSpacingY),
	}
}

type MoveFunction func(classId Id, position Point, committed bool)

// per-class pixel coordinates, held apart from the authoritative model.
// positions are a rendering convenience, not durable state: a class that
// leaves the snapshot loses its position, and one that reappears gets a
// fresh grid default.
type LayoutCache struct {
	moveMonitor *CallbackList[MoveFunction]

	mutex     sync.Mutex
	positions map[Id]Point
}

func NewLayoutCache() *LayoutCache {
	return &LayoutCache{
		moveMonitor: NewCallbackList[MoveFunction](),
		positions:   map[Id]Point{},
	}
}

// hook for the optional position-broadcast extension (node_move /
// node_move_commit events). the cache never emits on its own.
func (self *LayoutCache) AddMoveCallback(moveCallback MoveFunction) func() {
	return self.moveMonitor.Add(moveCallback)
}

func (self *LayoutCache) GetPosition(classId Id, index int, total int) Point {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if position, ok := self.positions[classId]; ok {
		return position
	}
	position := ComputeGridPosition(index, total)
	self.positions[classId] = position
	return position
}

// drag-move. purely local.
func (self *LayoutCache) SetPosition(classId Id, position Point) {
	self.setPosition(classId, position, false)
}

// drag-commit
func (self *LayoutCache) CommitPosition(classId Id, position Point) {
	self.setPosition(classId, position, true)
}

func (self *LayoutCache) setPosition(classId Id, position Point, committed bool) {
	self.mutex.Lock()
	self.positions[classId] = position
	self.mutex.Unlock()

	for _, moveCallback := range self.moveMonitor.Get() {
		HandleError(func() {
			moveCallback(classId, position, committed)
		})
	}
}

// optional position-broadcast extension: wires drag moves to node_move and
// commits to node_move_commit over the live connection. fire and forget, like
// presence. returns the unwire function.
func BroadcastMoves(manager *ConnectionManager, cache *LayoutCache) func() {
	return cache.AddMoveCallback(func(classId Id, position Point, committed bool) {
		event := EventNodeMove
		if committed {
			event = EventNodeMoveCommit
		}
		manager.Emit(event, &NodeMovePayload{
			ProjectId: manager.projectId,
			ClassId:   classId,
			X:         position.X,
			Y:         position.Y,
		})
	})
}

// companion extension event for relation anchor drags
func EmitEdgeAnchor(manager *ConnectionManager, relationId Id, sourceHandle *string, targetHandle *string) {
	manager.Emit(EventEdgeAnchor, &EdgeAnchorPayload{
		ProjectId:    manager.projectId,
		RelationId:   relationId,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	})
}

// snapshot-change pass: seed grid defaults for classes without a cached
// position and prune positions whose class left the snapshot.
func (self *LayoutCache) Prune(snapshot *ModelSnapshot) {
	if snapshot == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()

	present := map[Id]bool{}
	for index, class := range snapshot.Classes {
		present[class.ClassId] = true
		if _, ok := self.positions[class.ClassId]; !ok {
			self.positions[class.ClassId] = ComputeGridPosition(index, len(snapshot.Classes))
		}
	}
	for _, classId := range maps.Keys(self.positions) {
		if !present[classId] {
			delete(self.positions, classId)
		}
	}
}
