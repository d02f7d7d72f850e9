package nsq

import "sync"

// connRegistry gives Message a non-owning handle back to its Connection:
// a numeric id looked up here, rather than a retained pointer, so Message
// and Connection never form a reference cycle (SPEC_FULL.md §9).
var connRegistry sync.Map // map[uint64]*Connection

var connIDCounter uint64Counter

func registerConn(c *Connection) uint64 {
	id := connIDCounter.next()
	connRegistry.Store(id, c)
	return id
}

func unregisterConn(id uint64) {
	connRegistry.Delete(id)
}

func lookupConn(id uint64) *Connection {
	v, ok := connRegistry.Load(id)
	if !ok {
		return nil
	}
	return v.(*Connection)
}

type uint64Counter struct {
	mu  sync.Mutex
	cur uint64
}

func (c *uint64Counter) next() uint64 {
	c.mu.Lock()
	c.cur++
	v := c.cur
	c.mu.Unlock()
	return v
}
