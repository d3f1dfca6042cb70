package kv

import (
	"fmt"
	"strings"
)

// Database is a named keyspace inside an Env. Keys of different databases
// never collide.
type Database struct {
	name   string
	prefix string
}

// OpenDatabase returns the database called name
func (e *Env) OpenDatabase(name string) (*Database, error) {
	if name == "" {
		return nil, fmt.Errorf("database name must not be empty")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return nil, fmt.Errorf("database name %q contains a zero byte", name)
	}
	return &Database{name: name, prefix: name + "\x00"}, nil
}

// Name returns the database name
func (d *Database) Name() string {
	return d.name
}

func (d *Database) key(key []byte) string {
	return d.prefix + string(key)
}

// Get returns the value stored under key. The returned slice must not be
// modified.
func (d *Database) Get(r Reader, key []byte) ([]byte, bool, error) {
	return r.get(d.key(key))
}

// Put stores value under key
func (d *Database) Put(w *WriteTxn, key, value []byte) error {
	return w.put(d.key(key), value)
}

// Delete removes key and reports whether it was present
func (d *Database) Delete(w *WriteTxn, key []byte) (bool, error) {
	_, found, err := w.get(d.key(key))
	if err != nil || !found {
		return false, err
	}
	return true, w.del(d.key(key))
}

// First returns the lowest entry of the database
func (d *Database) First(r Reader) (key, value []byte, found bool, err error) {
	err = d.Iter(r, nil, func(k, v []byte) (bool, error) {
		key, value, found = k, v, true
		return false, nil
	})
	return key, value, found, err
}

// Last returns the highest entry of the database
func (d *Database) Last(r Reader) ([]byte, []byte, bool, error) {
	k, v, found, err := r.last(d.prefix)
	if err != nil || !found {
		return nil, nil, false, err
	}
	return []byte(k[len(d.prefix):]), v, true, nil
}

// Iter calls fn for every entry whose key starts with prefix, in key order,
// until fn returns false or an error. fn must not write to the database.
func (d *Database) Iter(r Reader, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return r.scan(d.key(prefix), func(k string, v []byte) (bool, error) {
		return fn([]byte(k[len(d.prefix):]), v)
	})
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (d *Database) DeletePrefix(w *WriteTxn, prefix []byte) (int, error) {
	var keys []string
	err := w.scan(d.key(prefix), func(k string, _ []byte) (bool, error) {
		keys = append(keys, k)
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, k := range keys {
		if err := w.del(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Clear removes every entry of the database
func (d *Database) Clear(w *WriteTxn) error {
	_, err := d.DeletePrefix(w, nil)
	return err
}

// Len counts the entries of the database
func (d *Database) Len(r Reader) (int, error) {
	n := 0
	err := r.scan(d.prefix, func(string, []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}
