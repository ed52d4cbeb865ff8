// Package pluginhost keeps the plugin instances known to the running host
// and which of them are enabled in each profile.
package pluginhost

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/vrsandeep/plugman/internal/plugins"
)

// Instance is a plugin loaded into the host.
type Instance struct {
	Config     *plugins.Configuration
	Dir        string
	SourcePath string
}

func (i *Instance) ID() string {
	return i.Config.ID()
}

// Runner starts an enabled plugin. Executing plugin code is left to the
// embedding host.
type Runner interface {
	Run(ctx context.Context, profileID string, inst *Instance) error
	Stop(inst *Instance) error
}

// Registry holds instances by id. Enabled state is tracked per profile and
// survives replacing an instance with a newer version.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	enabled   map[string]map[string]bool // profile -> plugin id
	running   map[string]bool
	runner    Runner
}

// NewRegistry returns an empty registry. runner may be nil, in which case
// RunAllEnabled only records which plugins would run.
func NewRegistry(runner Runner) *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		enabled:   make(map[string]map[string]bool),
		running:   make(map[string]bool),
		runner:    runner,
	}
}

// Push adds inst, replacing any instance with the same id.
func (r *Registry) Push(inst *Instance) {
	if inst == nil || inst.Config == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID()] = inst
}

func (r *Registry) FindByID(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// RemoveByID drops an instance, stopping it first when it is running, and
// forgets its enabled state in every profile.
func (r *Registry) RemoveByID(id string) bool {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.instances, id)
	wasRunning := r.running[id]
	delete(r.running, id)
	for _, set := range r.enabled {
		delete(set, id)
	}
	r.mu.Unlock()

	if wasRunning && r.runner != nil {
		if err := r.runner.Stop(inst); err != nil {
			log.Printf("Warning: failed to stop plugin %s: %v", id, err)
		}
	}
	return true
}

// All returns the instances sorted by id.
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Configurations returns the configuration of every instance, sorted by id.
func (r *Registry) Configurations() []*plugins.Configuration {
	all := r.All()
	out := make([]*plugins.Configuration, len(all))
	for i, inst := range all {
		out[i] = inst.Config
	}
	return out
}

func (r *Registry) IsEnabled(profileID, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[profileID][id]
}

// Enable marks an installed plugin as enabled in a profile.
func (r *Registry) Enable(profileID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return fmt.Errorf("plugin %s is not installed", id)
	}
	set, ok := r.enabled[profileID]
	if !ok {
		set = make(map[string]bool)
		r.enabled[profileID] = set
	}
	set[id] = true
	return nil
}

func (r *Registry) Disable(profileID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enabled[profileID], id)
}

// RunAllEnabled starts every enabled, not yet running plugin of a profile
// and returns the ids it started. Failures are logged and skipped.
func (r *Registry) RunAllEnabled(ctx context.Context, profileID string) []string {
	r.mu.Lock()
	var pending []*Instance
	for id := range r.enabled[profileID] {
		if inst, ok := r.instances[id]; ok && !r.running[id] {
			pending = append(pending, inst)
		}
	}
	r.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID() < pending[j].ID() })

	var started []string
	for _, inst := range pending {
		if r.runner != nil {
			if err := r.runner.Run(ctx, profileID, inst); err != nil {
				log.Printf("Failed to run plugin %s: %v", inst.ID(), err)
				continue
			}
		}
		r.mu.Lock()
		r.running[inst.ID()] = true
		r.mu.Unlock()
		started = append(started, inst.ID())
	}
	return started
}

func (r *Registry) IsRunning(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running[id]
}

// Dispose stops every running plugin and empties the registry.
func (r *Registry) Dispose() {
	r.mu.Lock()
	var running []*Instance
	for id := range r.running {
		if inst, ok := r.instances[id]; ok {
			running = append(running, inst)
		}
	}
	r.instances = make(map[string]*Instance)
	r.enabled = make(map[string]map[string]bool)
	r.running = make(map[string]bool)
	r.mu.Unlock()

	for _, inst := range running {
		if r.runner == nil {
			continue
		}
		if err := r.runner.Stop(inst); err != nil {
			log.Printf("Warning: failed to stop plugin %s: %v", inst.ID(), err)
		}
	}
}
