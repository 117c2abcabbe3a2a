package realtime

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func testId(b byte) Id {
	id := Id{}
	id[15] = b
	return id
}

func testClass(classId Id, projectId Id, name string) *DomainClass {
	return &DomainClass{
		ClassId:   classId,
		ProjectId: projectId,
		Name:      name,
	}
}

func testRelation(relationId Id, sourceClassId Id, targetClassId Id) *DomainRelation {
	return &DomainRelation{
		RelationId:         relationId,
		SourceClassId:      sourceClassId,
		TargetClassId:      targetClassId,
		Kind:               RelationKindAggregation,
		SourceMultiplicity: MultiplicityOne,
		TargetMultiplicity: MultiplicityZeroOrMany,
	}
}

func TestApplyIdempotent(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	class := testClass(testId(1), projectId, "Pedido")

	created := &ModelEvent{Event: EventClassCreated, Class: class}
	modelSync.Apply(created)
	once := modelSync.Snapshot()

	modelSync.Apply(created)
	twice := modelSync.Snapshot()

	// re-delivery leaves the exact same snapshot
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, len(twice.Classes))

	// same for updates
	updated := &ModelEvent{Event: EventClassUpdated, Class: testClass(testId(1), projectId, "PedidoConfirmado")}
	modelSync.Apply(updated)
	onceUpdated := modelSync.Snapshot()
	modelSync.Apply(updated)
	assert.Equal(t, onceUpdated, modelSync.Snapshot())
	assert.Equal(t, "PedidoConfirmado", modelSync.Snapshot().Classes[0].Name)

	// and deletes
	deleted := &ModelEvent{Event: EventClassDeleted, DeletedId: testId(1)}
	modelSync.Apply(deleted)
	onceDeleted := modelSync.Snapshot()
	modelSync.Apply(deleted)
	assert.Equal(t, onceDeleted, modelSync.Snapshot())
	assert.Equal(t, 0, len(modelSync.Snapshot().Classes))
}

func TestApplyOrderInsensitiveAcrossIdentifiers(t *testing.T) {
	ctx := context.Background()
	projectId := testId(100)

	a := testClass(testId(1), projectId, "Cliente")
	b := testClass(testId(2), projectId, "Factura")

	ab := NewModelSync(ctx)
	defer ab.Close()
	ab.Apply(&ModelEvent{Event: EventClassCreated, Class: a})
	ab.Apply(&ModelEvent{Event: EventClassCreated, Class: b})

	ba := NewModelSync(ctx)
	defer ba.Close()
	ba.Apply(&ModelEvent{Event: EventClassCreated, Class: b})
	ba.Apply(&ModelEvent{Event: EventClassCreated, Class: a})

	abIds := map[Id]bool{}
	for _, class := range ab.Snapshot().Classes {
		abIds[class.ClassId] = true
	}
	baIds := map[Id]bool{}
	for _, class := range ba.Snapshot().Classes {
		baIds[class.ClassId] = true
	}
	assert.Equal(t, abIds, baIds)
	assert.Equal(t, 2, len(ab.Snapshot().Classes))
	assert.Equal(t, 2, len(ba.Snapshot().Classes))
}

func TestApplyUpdateOfUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: testClass(testId(1), projectId, "Cliente")})
	before := modelSync.Snapshot()

	// an update for an identifier not in the snapshot cannot be synthesized
	modelSync.Apply(&ModelEvent{Event: EventClassUpdated, Class: testClass(testId(9), projectId, "Fantasma")})
	assert.Equal(t, before, modelSync.Snapshot())

	modelSync.Apply(&ModelEvent{Event: EventRelationUpdated, Relation: testRelation(testId(8), testId(1), testId(1))})
	assert.Equal(t, before, modelSync.Snapshot())
}

func TestApplyRemoveAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	before := modelSync.Snapshot()
	modelSync.Apply(&ModelEvent{Event: EventClassDeleted, DeletedId: testId(7)})
	modelSync.Apply(&ModelEvent{Event: EventRelationDeleted, DeletedId: testId(7)})
	assert.Equal(t, before, modelSync.Snapshot())
}

func TestRelationCreatedScenario(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: testClass(testId(1), projectId, "A")})
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: testClass(testId(2), projectId, "B")})
	classesBefore := modelSync.Snapshot().Classes

	relation := testRelation(testId(3), testId(1), testId(2))
	modelSync.Apply(&ModelEvent{Event: EventRelationCreated, Relation: relation})

	snapshot := modelSync.Snapshot()
	assert.Equal(t, 1, len(snapshot.Relations))
	assert.Equal(t, testId(3), snapshot.Relations[0].RelationId)
	assert.Equal(t, RelationKindAggregation, snapshot.Relations[0].Kind)
	assert.Equal(t, MultiplicityOne, snapshot.Relations[0].SourceMultiplicity)
	assert.Equal(t, MultiplicityZeroOrMany, snapshot.Relations[0].TargetMultiplicity)
	// classes untouched, same objects
	assert.Equal(t, classesBefore, snapshot.Classes)
}

func TestOrphanRelationIsStored(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	// the relation event can arrive before its class events. the sync layer
	// stores it rather than rejecting or reordering.
	relation := testRelation(testId(3), testId(1), testId(2))
	modelSync.Apply(&ModelEvent{Event: EventRelationCreated, Relation: relation})

	snapshot := modelSync.Snapshot()
	assert.Equal(t, 1, len(snapshot.Relations))
	assert.Equal(t, 0, len(snapshot.Classes))
}

func TestReloadSupersedesMerge(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: testClass(testId(1), projectId, "Cliente")})
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: testClass(testId(2), projectId, "Factura")})

	// the reload already reflects the event's effect plus more
	reloaded := &ModelSnapshot{
		Classes: []*DomainClass{
			testClass(testId(1), projectId, "Cliente"),
			testClass(testId(2), projectId, "Factura"),
			testClass(testId(3), projectId, "Pago"),
		},
		Relations: []*DomainRelation{
			testRelation(testId(4), testId(1), testId(2)),
		},
	}
	modelSync.Reload(reloaded)

	// exactly the reloaded snapshot, not a merge
	assert.Equal(t, reloaded, modelSync.Snapshot())
}

func TestSnapshotCallbackNotChangedOnNoop(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	class := testClass(testId(1), projectId, "Cliente")

	notified := 0
	modelSync.AddSnapshotCallback(func(snapshot *ModelSnapshot) {
		notified += 1
	})

	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: class})
	assert.Equal(t, 1, notified)

	// no-op re-delivery does not wake the rendering layer
	modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: class})
	assert.Equal(t, 1, notified)
}

func TestDecodeDeletedIdBothForms(t *testing.T) {
	id := testId(5)

	bare, err := decodeDeletedId([]byte(`"` + id.String() + `"`))
	assert.Equal(t, nil, err)
	assert.Equal(t, id, bare)

	wrapped, err := decodeDeletedId([]byte(`{"id":"` + id.String() + `"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, id, wrapped)
}

func TestStaleApplyDiscardedAfterClose(t *testing.T) {
	ctx := context.Background()
	modelSync := NewModelSync(ctx)

	notified := 0
	modelSync.AddSnapshotCallback(func(snapshot *ModelSnapshot) {
		notified += 1
	})

	modelSync.Close()
	modelSync.Reload(&ModelSnapshot{})
	assert.Equal(t, 0, notified)
}
