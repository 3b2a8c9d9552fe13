package call

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mrsingh-rishi/voice-query/model"
)

// Resources indexes the live PlayableResources of every connected client so
// their audio can be served over HTTP. Released resources are forgotten.
type Resources struct {
	mu    sync.Mutex
	items map[uuid.UUID]*model.PlayableResource
}

func NewResources() *Resources {
	return &Resources{items: make(map[uuid.UUID]*model.PlayableResource)}
}

func (r *Resources) Put(res *model.PlayableResource) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	r.items[res.ID] = res
}

// Get returns the resource with id, or nil once it has been released.
func (r *Resources) Get(id uuid.UUID) *model.PlayableResource {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.items[id]
	if !ok {
		return nil
	}
	if res.Released() {
		delete(r.items, id)
		return nil
	}
	return res
}

func (r *Resources) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	return len(r.items)
}

func (r *Resources) prune() {
	for id, res := range r.items {
		if res.Released() {
			delete(r.items, id)
		}
	}
}
