package embedder

import "sync"

// MemoryPublisher records events in publish order. Useful in tests and for
// inspecting a single initialization run.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Events returns a copy of everything recorded so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	var names []string
	for _, e := range p.Events() {
		names = append(names, e.Name)
	}
	return names
}

// Count reports how many events named name were published.
func (p *MemoryPublisher) Count(name string) int {
	n := 0
	for _, e := range p.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Has reports whether an event named name was published.
func (p *MemoryPublisher) Has(name string) bool { return p.Count(name) > 0 }
