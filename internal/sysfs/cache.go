package sysfs

import "sync"

// Cache remembers the last value written to each actuator path so redundant
// writes can be skipped. Entries are advisory: a forced write re-reads the
// node and repairs the cache when something else has touched it.
type Cache struct {
	mu      sync.Mutex
	numbers map[string]uint64
	strs    map[string]string
	writes  int
}

// NewCache returns an empty actuator cache.
func NewCache() *Cache {
	return &Cache{
		numbers: make(map[string]uint64),
		strs:    make(map[string]string),
	}
}

// WriteUint writes target to path unless it is known to hold it already.
// A missing path is a silent no-op. It returns whether the node was written.
func (c *Cache) WriteUint(path string, target uint64, force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !Exists(path) {
		return false, nil
	}

	if last, ok := c.numbers[path]; ok && !force && last == target {
		return false, nil
	}

	if force {
		if cur, err := ReadUint(path); err == nil && cur == target {
			c.numbers[path] = target
			return false, nil
		}
	}

	if err := WriteUint(path, target); err != nil {
		return false, err
	}
	c.numbers[path] = target
	c.writes++

	return true, nil
}

// WriteString is WriteUint for string nodes such as scaling_governor.
func (c *Cache) WriteString(path, target string, force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !Exists(path) {
		return false, nil
	}

	if last, ok := c.strs[path]; ok && !force && last == target {
		return false, nil
	}

	if force {
		if cur, err := ReadString(path); err == nil && cur == target {
			c.strs[path] = target
			return false, nil
		}
	}

	if err := WriteString(path, target); err != nil {
		return false, err
	}
	c.strs[path] = target
	c.writes++

	return true, nil
}

// Last returns the cached numeric value for path.
func (c *Cache) Last(path string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.numbers[path]
	return v, ok
}

// Writes returns the number of filesystem writes performed through c.
func (c *Cache) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writes
}
