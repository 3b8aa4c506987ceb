// Package registry tracks the producer instances shipping logs to this
// server: which project they log for, from where, and when they were
// last seen. Entries are kept in memory only; a producer re-registers on
// its next handshake after a restart.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Producer is one registered client instance.
type Producer struct {
	InstanceID    string `json:"instance_id"`
	Project       string `json:"project"`
	Module        string `json:"module,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	IP            string `json:"ip,omitempty"`
	Platform      string `json:"platform,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	RegisteredAt  int64  `json:"registered_at"`
	LastSeenAt    int64  `json:"last_seen_at"`
}

// Registry is the in-memory producer table.
type Registry struct {
	mu        sync.RWMutex
	now       func() time.Time
	producers map[string]*Producer
}

func New() *Registry {
	return &Registry{
		now:       time.Now,
		producers: make(map[string]*Producer),
	}
}

// RegisterOrUpdate adds a producer or refreshes an existing one. The
// original registration time survives updates.
func (r *Registry) RegisterOrUpdate(p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.producers[p.InstanceID]; ok {
		p.RegisteredAt = existing.RegisteredAt
	} else if p.RegisteredAt == 0 {
		p.RegisteredAt = r.now().Unix()
	}
	p.LastSeenAt = r.now().Unix()
	r.producers[p.InstanceID] = &p
}

// Touch refreshes a producer's last-seen time without changing anything
// else. Unknown instances are ignored.
func (r *Registry) Touch(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.producers[instanceID]; ok {
		p.LastSeenAt = r.now().Unix()
	}
}

// Get returns a copy of one producer.
func (r *Registry) Get(instanceID string) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[instanceID]
	if !ok {
		return Producer{}, false
	}
	return *p, true
}

// List returns every producer, ordered by project then instance id for
// stable listings.
func (r *Registry) List() []Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Producer, 0, len(r.producers))
	for _, p := range r.producers {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Project != list[j].Project {
			return list[i].Project < list[j].Project
		}
		return list[i].InstanceID < list[j].InstanceID
	})
	return list
}

// PruneStale drops producers not seen within timeout and reports how
// many were removed.
func (r *Registry) PruneStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Unix() - int64(timeout.Seconds())
	pruned := 0
	for id, p := range r.producers {
		if p.LastSeenAt < cutoff {
			delete(r.producers, id)
			pruned++
		}
	}
	return pruned
}

// Run prunes stale producers on a ticker until the context is done.
func (r *Registry) Run(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PruneStale(timeout)
		}
	}
}
