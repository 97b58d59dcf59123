// Copyright (c) 2025 The Uplink Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// The transfer queue is a durable, ordered store of pending transfer
// descriptors. Records are keyed so that an ascending scan yields
// user-prioritized transfers first and FIFO order within each class, and
// every mutation is committed before it is acknowledged, so the queue (and in
// particular the last acknowledged offset of an in-flight transfer) survives
// abrupt process termination.

// bucket names
var descriptorsBucket = []byte("descriptors")
var indexBucket = []byte("index")

// key prefixes ordering the two priority classes
const (
	prioManual byte = 0 // user-initiated manual retries
	prioNormal byte = 1
)

type Queue struct {
	db *bolt.DB
}

// opens (creating if necessary) the transfer queue at the given path,
// discarding any corrupted records encountered
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &CantOpenError{Path: path, Message: err.Error()}
	}

	q := &Queue{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucketName := range [][]byte{descriptorsBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucketName); err != nil {
				return err
			}
		}
		return sweepCorruptRecords(tx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// closes the queue, flushing it to disk
func (q *Queue) Close() error {
	return q.db.Close()
}

// adds a descriptor to the back of the queue (or the back of the priority
// class, for manual retries), assigning it an identifier if it has none
func (q *Queue) Enqueue(descriptor *Descriptor) (uuid.UUID, error) {
	if descriptor.Id == (uuid.UUID{}) {
		descriptor.Id = uuid.New()
	}
	if descriptor.CreationTime.IsZero() {
		descriptor.CreationTime = time.Now()
	}

	err := q.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(indexBucket)
		if index.Get(descriptor.Id[:]) != nil {
			return &DuplicateIdError{Id: descriptor.Id}
		}
		return putDescriptor(tx, descriptor)
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	return descriptor.Id, nil
}

// returns the first descriptor (priority first, FIFO within class) that is
// Pending and eligible to run at the given time, or nil if there is none
func (q *Queue) DequeueNext(now time.Time) (*Descriptor, error) {
	var next *Descriptor
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(descriptorsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var descriptor Descriptor
			if err := json.Unmarshal(v, &descriptor); err != nil {
				slog.Error(fmt.Sprintf("Skipping corrupt queue record: %s", err.Error()))
				continue
			}
			if descriptor.Status == StatusPending && !descriptor.NextAttemptTime.After(now) {
				next = &descriptor
				return nil
			}
		}
		return nil
	})
	return next, err
}

// retrieves the descriptor with the given identifier
func (q *Queue) Get(id uuid.UUID) (*Descriptor, error) {
	var descriptor *Descriptor
	err := q.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(indexBucket).Get(id[:])
		if key == nil {
			return &NotFoundError{Id: id}
		}
		v := tx.Bucket(descriptorsBucket).Get(key)
		if v == nil {
			return &NotFoundError{Id: id}
		}
		descriptor = new(Descriptor)
		if err := json.Unmarshal(v, descriptor); err != nil {
			return &CorruptRecordError{Id: id, Message: err.Error()}
		}
		return nil
	})
	return descriptor, err
}

// overwrites the stored record for the given descriptor, preserving its
// position in the queue; used to persist offset and status changes
func (q *Queue) Update(descriptor *Descriptor) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(indexBucket).Get(descriptor.Id[:])
		if key == nil {
			return &NotFoundError{Id: descriptor.Id}
		}
		data, err := json.Marshal(descriptor)
		if err != nil {
			return err
		}
		return tx.Bucket(descriptorsBucket).Put(key, data)
	})
}

// removes the descriptor with the given identifier from the queue
func (q *Queue) Remove(id uuid.UUID) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(indexBucket)
		key := index.Get(id[:])
		if key == nil {
			return &NotFoundError{Id: id}
		}
		if err := tx.Bucket(descriptorsBucket).Delete(key); err != nil {
			return err
		}
		return index.Delete(id[:])
	})
}

// moves the descriptor with the given identifier into the manual-retry
// priority class, placing it ahead of all normally queued transfers
func (q *Queue) Promote(id uuid.UUID) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(indexBucket)
		oldKey := index.Get(id[:])
		if oldKey == nil {
			return &NotFoundError{Id: id}
		}
		descriptors := tx.Bucket(descriptorsBucket)
		v := descriptors.Get(oldKey)
		if v == nil {
			return &NotFoundError{Id: id}
		}
		var descriptor Descriptor
		if err := json.Unmarshal(v, &descriptor); err != nil {
			return &CorruptRecordError{Id: id, Message: err.Error()}
		}
		if err := descriptors.Delete(oldKey); err != nil {
			return err
		}
		descriptor.Priority = true
		return putDescriptor(tx, &descriptor)
	})
}

// returns all descriptors in queue order
func (q *Queue) Pending() ([]Descriptor, error) {
	descriptors := make([]Descriptor, 0)
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(descriptorsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var descriptor Descriptor
			if err := json.Unmarshal(v, &descriptor); err != nil {
				slog.Error(fmt.Sprintf("Skipping corrupt queue record: %s", err.Error()))
				continue
			}
			descriptors = append(descriptors, descriptor)
		}
		return nil
	})
	return descriptors, err
}

// returns the number of descriptors in the queue
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(indexBucket).Stats().KeyN
		return nil
	})
	return n, err
}

//-----------
// Internals
//-----------

// writes a descriptor under a fresh ordered key and indexes it by id
func putDescriptor(tx *bolt.Tx, descriptor *Descriptor) error {
	descriptors := tx.Bucket(descriptorsBucket)
	seq, err := descriptors.NextSequence()
	if err != nil {
		return err
	}

	key := make([]byte, 9)
	if descriptor.Priority {
		key[0] = prioManual
	} else {
		key[0] = prioNormal
	}
	binary.BigEndian.PutUint64(key[1:], seq)

	data, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	if err := descriptors.Put(key, data); err != nil {
		return err
	}
	return tx.Bucket(indexBucket).Put(descriptor.Id[:], key)
}

// deletes records that can't be decoded, along with index entries pointing at
// nothing; corruption is logged, never fatal to loading the queue
func sweepCorruptRecords(tx *bolt.Tx) error {
	descriptors := tx.Bucket(descriptorsBucket)

	c := descriptors.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var descriptor Descriptor
		if err := json.Unmarshal(v, &descriptor); err != nil {
			slog.Error(fmt.Sprintf("Dropping corrupt queue record: %s", err.Error()))
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}

	index := tx.Bucket(indexBucket)
	c = index.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if descriptors.Get(v) == nil {
			slog.Error("Dropping dangling queue index entry")
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}
	return nil
}
