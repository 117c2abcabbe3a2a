package realtime

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

type MutationState = string

const (
	MutationStateIdle       MutationState = "idle"
	MutationStateSubmitting MutationState = "submitting"
	MutationStateReloading  MutationState = "reloading"
)

type MutationStateFunction func(state MutationState)

// the protocol every mutating action follows:
//  1. submit the CRUD call and wait for its result
//  2. on success, reload the full snapshot as ground truth
//  3. on failure, surface the error and leave the snapshot alone
//
// the author's own realtime event may land before, after, or never; the
// reload is an idempotent "set to latest truth", so either interleaving
// converges. there is no retry state: a failed mutation needs a new
// user-initiated action.
type MutationCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	api       *ModeladoApi
	modelSync *ModelSync

	projectId Id
	actorId   Id

	stateMonitor *CallbackList[MutationStateFunction]

	mutex sync.Mutex
	state MutationState
}

func NewMutationCoordinator(ctx context.Context, api *ModeladoApi, modelSync *ModelSync, projectId Id, actorId Id) *MutationCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &MutationCoordinator{
		ctx:          cancelCtx,
		cancel:       cancel,
		api:          api,
		modelSync:    modelSync,
		projectId:    projectId,
		actorId:      actorId,
		stateMonitor: NewCallbackList[MutationStateFunction](),
		state:        MutationStateIdle,
	}
}

func (self *MutationCoordinator) State() MutationState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *MutationCoordinator) AddStateCallback(stateCallback MutationStateFunction) func() {
	return self.stateMonitor.Add(stateCallback)
}

func (self *MutationCoordinator) setState(state MutationState) {
	self.mutex.Lock()
	self.state = state
	self.mutex.Unlock()

	for _, stateCallback := range self.stateMonitor.Get() {
		HandleError(func() {
			stateCallback(state)
		})
	}
}

// runs one mutation through the protocol
func (self *MutationCoordinator) Do(mutate func() error) error {
	self.setState(MutationStateSubmitting)

	if err := mutate(); err != nil {
		self.setState(MutationStateIdle)
		return err
	}

	self.setState(MutationStateReloading)
	self.reload()
	self.setState(MutationStateIdle)
	return nil
}

// authoritative reload. a reload that resolves after the view was torn down
// is discarded, not applied.
func (self *MutationCoordinator) reload() {
	snapshot, err := self.api.GetDomainModelSync(self.projectId, self.actorId)
	if err != nil {
		// the mutation itself succeeded; the next event or reload converges
		glog.Infof("[m]reload error = %s\n", err)
		return
	}

	select {
	case <-self.ctx.Done():
		// stale apply, discard silently
		return
	default:
	}
	self.modelSync.Reload(snapshot)
}

// Reload triggers the authoritative reload outside of any mutation, e.g. on
// first view mount or after a reconnect.
func (self *MutationCoordinator) Reload() {
	self.reload()
}

func (self *MutationCoordinator) Close() {
	self.cancel()
	self.stateMonitor.Clear()
}

// mutation helper that carries the CRUD result through the protocol, so call
// sites can use the server-confirmed entity (with its server-supplied
// identifier) after the reload.
func Mutate[R any](coordinator *MutationCoordinator, mutate func() (R, error)) (R, error) {
	var result R
	err := coordinator.Do(func() error {
		var mutateErr error
		result, mutateErr = mutate()
		return mutateErr
	})
	if err != nil {
		var empty R
		return empty, err
	}
	return result, nil
}
