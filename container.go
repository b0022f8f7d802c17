package squery

import (
	"context"
	"fmt"
)

// Container maps logical names to database handles for applications that talk
// to more than one database.
type Container map[string]*Database

// Get looks a database up by its logical name.
func (c Container) Get(name string) (*Database, error) {
	db, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("squery: no database named %q", name)
	}
	return db, nil
}

// CloseAll closes every database in the container, attempting all of them
// regardless of individual failures.
func (c Container) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, db := range c {
		if err := db.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
