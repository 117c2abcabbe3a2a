package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

// minimal stand-in for the platform CRUD api. the server owns identifier
// assignment, like the real one.
type testCrudServer struct {
	server *httptest.Server

	mutex    sync.Mutex
	snapshot *ModelSnapshot
	nextId   byte
	reject   bool
}

func newTestCrudServer() *testCrudServer {
	tcs := &testCrudServer{
		snapshot: &ModelSnapshot{},
		nextId:   1,
	}
	tcs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tcs.mutex.Lock()
		defer tcs.mutex.Unlock()

		if tcs.reject {
			http.Error(w, "actor lacks editor role", http.StatusForbidden)
			return
		}

		switch {
		case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/domain"):
			json.NewEncoder(w).Encode(tcs.snapshot)
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/classes"):
			args := &CreateClassArgs{}
			json.NewDecoder(r.Body).Decode(args)
			class := &DomainClass{
				ClassId: testId(tcs.nextId),
				Name:    args.Name,
			}
			tcs.nextId += 1
			tcs.snapshot = &ModelSnapshot{
				Classes:   append(tcs.snapshot.Classes, class),
				Relations: tcs.snapshot.Relations,
			}
			json.NewEncoder(w).Encode(class)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	return tcs
}

func TestMutationTriggersAuthoritativeReload(t *testing.T) {
	tcs := newTestCrudServer()
	defer tcs.server.Close()

	ctx := context.Background()
	api := NewModeladoApiWithContext(ctx, tcs.server.URL)
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	actorId := testId(101)
	coordinator := NewMutationCoordinator(ctx, api, modelSync, projectId, actorId)
	defer coordinator.Close()

	states := []MutationState{}
	coordinator.AddStateCallback(func(state MutationState) {
		states = append(states, state)
	})

	created, err := Mutate(coordinator, func() (*DomainClass, error) {
		return api.CreateClassSync(&CreateClassArgs{
			ProjectId: projectId,
			ActorId:   actorId,
			Name:      "Cliente",
		})
	})
	assert.Equal(t, nil, err)
	// the identifier comes from the server, never the optimistic caller
	assert.Equal(t, testId(1), created.ClassId)

	snapshot := modelSync.Snapshot()
	assert.Equal(t, 1, len(snapshot.Classes))
	assert.Equal(t, testId(1), snapshot.Classes[0].ClassId)

	assert.Equal(t, []MutationState{
		MutationStateSubmitting,
		MutationStateReloading,
		MutationStateIdle,
	}, states)
	assert.Equal(t, MutationStateIdle, coordinator.State())
}

func TestFailedMutationLeavesSnapshotAlone(t *testing.T) {
	tcs := newTestCrudServer()
	defer tcs.server.Close()

	ctx := context.Background()
	api := NewModeladoApiWithContext(ctx, tcs.server.URL)
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	actorId := testId(101)
	coordinator := NewMutationCoordinator(ctx, api, modelSync, projectId, actorId)
	defer coordinator.Close()

	before := modelSync.Snapshot()

	tcs.mutex.Lock()
	tcs.reject = true
	tcs.mutex.Unlock()

	_, err := Mutate(coordinator, func() (*DomainClass, error) {
		return api.CreateClassSync(&CreateClassArgs{
			ProjectId: projectId,
			ActorId:   actorId,
			Name:      "Cliente",
		})
	})
	assert.NotEqual(t, err, nil)
	mutationErr, ok := err.(*MutationError)
	assert.Equal(t, true, ok)
	assert.Equal(t, http.StatusForbidden, mutationErr.StatusCode)

	// no snapshot mutation on the failure path, and no retry state
	assert.Equal(t, before, modelSync.Snapshot())
	assert.Equal(t, MutationStateIdle, coordinator.State())
}

func TestReloadConvergesWithEarlierEvent(t *testing.T) {
	tcs := newTestCrudServer()
	defer tcs.server.Close()

	ctx := context.Background()
	api := NewModeladoApiWithContext(ctx, tcs.server.URL)
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	actorId := testId(101)
	coordinator := NewMutationCoordinator(ctx, api, modelSync, projectId, actorId)
	defer coordinator.Close()

	// the author's own broadcast can land before the reload. the reload is
	// set-to-latest-truth, so both paths converge.
	err := coordinator.Do(func() error {
		created, err := api.CreateClassSync(&CreateClassArgs{
			ProjectId: projectId,
			ActorId:   actorId,
			Name:      "Cliente",
		})
		if err != nil {
			return err
		}
		modelSync.Apply(&ModelEvent{Event: EventClassCreated, Class: created})
		return nil
	})
	assert.Equal(t, nil, err)

	snapshot := modelSync.Snapshot()
	assert.Equal(t, 1, len(snapshot.Classes))
	assert.Equal(t, testId(1), snapshot.Classes[0].ClassId)
}

func TestStaleReloadDiscarded(t *testing.T) {
	tcs := newTestCrudServer()
	defer tcs.server.Close()

	ctx := context.Background()
	api := NewModeladoApiWithContext(ctx, tcs.server.URL)
	modelSync := NewModelSync(ctx)
	defer modelSync.Close()

	projectId := testId(100)
	actorId := testId(101)
	coordinator := NewMutationCoordinator(ctx, api, modelSync, projectId, actorId)

	before := modelSync.Snapshot()

	// tear the view down, then let an in-flight mutation finish. the reload
	// result must be discarded, not applied.
	coordinator.Close()
	err := coordinator.Do(func() error {
		_, err := api.CreateClassSync(&CreateClassArgs{
			ProjectId: projectId,
			ActorId:   actorId,
			Name:      "Cliente",
		})
		return err
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, before, modelSync.Snapshot())
}
