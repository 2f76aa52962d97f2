package bot

import (
	"sort"
	"strings"
	"sync"

	"github.com/nlopes/slack"
)

// Channel is a conversation the bot is a member of.
type Channel struct {
	ID       string
	Name     string
	IsMember bool
	IsIM     bool
}

// Registry maps channel ids to channels. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Reset replaces the whole registry.
func (r *Registry) Reset(channels []Channel) {
	m := make(map[string]Channel, len(channels))
	for _, c := range channels {
		m[c.ID] = c
	}
	r.mu.Lock()
	r.channels = m
	r.mu.Unlock()
}

// Add inserts or replaces c.
func (r *Registry) Add(c Channel) {
	r.mu.Lock()
	r.channels[c.ID] = c
	r.mu.Unlock()
}

// Remove drops the channel with id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.Reset(nil)
}

// Get returns the channel with id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

// Find looks a channel up by id, by "id|name" as found in Slack channel
// links, or by name.
func (r *Registry) Find(idOrName string) (Channel, bool) {
	if c, ok := r.Get(idOrName); ok {
		return c, true
	}
	if id, _, ok := strings.Cut(idOrName, "|"); ok {
		return r.Get(id)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.channels {
		if c.Name == idOrName {
			return c, true
		}
	}
	return Channel{}, false
}

// Snapshot returns every channel, ordered by id.
func (r *Registry) Snapshot() []Channel {
	r.mu.RLock()
	out := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// channelsFromConversations converts a users.conversations listing. Direct
// message channels are named after the other user.
func channelsFromConversations(conversations []slack.Channel) []Channel {
	out := make([]Channel, 0, len(conversations))
	for _, c := range conversations {
		if c.IsIM {
			out = append(out, Channel{ID: c.ID, Name: c.User, IsMember: true, IsIM: true})
			continue
		}
		out = append(out, Channel{ID: c.ID, Name: c.Name, IsMember: true})
	}
	return out
}
