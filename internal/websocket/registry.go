package websocket

// registry maps connection ids to the sockets held by this node. It is owned
// by the Manager actor goroutine and never shared, so it carries no lock.
type registry struct {
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

func (r *registry) add(c *Connection) {
	r.conns[c.id] = c
}

func (r *registry) remove(id string) {
	delete(r.conns, id)
}

func (r *registry) get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) len() int {
	return len(r.conns)
}

func (r *registry) ids() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
