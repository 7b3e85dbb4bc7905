package blackboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// orderListName is the sibling file recording the authoritative on-disk
// item order.
const orderListName = "_order.list"

// diskQueue is the filesystem-backed half of a Queue: one directory, one
// file per item, and an `_order.list` sidecar giving the authoritative
// order. Grounded in the original LSST ctrl_sched blackboard/queue.py
// _FSDBBlackboardQueue: rename-based atomic mutation, reconciliation on
// open, hidden `.add.*`/`.del.*` files during in-flight mutations.
type diskQueue struct {
	dir string
}

func newDiskQueue(dir string) (*diskQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &AccessError{Msg: "create queue directory " + dir, Wrapped: err}
	}
	return &diskQueue{dir: dir}, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// load reads `_order.list`, reconciles it against the directory contents,
// rewrites the order file with the reconciled order, and returns the
// ordered items.
func (dq *diskQueue) load() ([]Item, error) {
	orderPath := filepath.Join(dq.dir, orderListName)
	var order []string
	if data, err := os.ReadFile(orderPath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				order = append(order, line)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, &AccessError{Msg: "read order list", Wrapped: err}
	}

	entries, err := os.ReadDir(dq.dir)
	if err != nil {
		return nil, &AccessError{Msg: "list queue directory", Wrapped: err}
	}
	onDisk := map[string]struct{}{}
	var sortedDiskNames []string
	for _, e := range entries {
		if e.IsDir() || isHidden(e.Name()) {
			continue
		}
		onDisk[e.Name()] = struct{}{}
		sortedDiskNames = append(sortedDiskNames, e.Name())
	}
	sort.Strings(sortedDiskNames)

	if order == nil {
		order = sortedDiskNames
	} else {
		inOrder := map[string]struct{}{}
		var reconciled []string
		for _, name := range order {
			if _, ok := onDisk[name]; ok {
				reconciled = append(reconciled, name)
				inOrder[name] = struct{}{}
			}
		}
		for _, name := range sortedDiskNames {
			if _, ok := inOrder[name]; !ok {
				reconciled = append(reconciled, name)
			}
		}
		order = reconciled
	}

	if err := dq.writeOrder(order); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(order))
	for _, name := range order {
		data, err := os.ReadFile(filepath.Join(dq.dir, name))
		if err != nil {
			return nil, &AccessError{Msg: "read item " + name, Wrapped: err}
		}
		items = append(items, DecodeItem(name, string(data)))
	}
	return items, nil
}

func (dq *diskQueue) writeOrder(names []string) error {
	content := strings.Join(names, "\n")
	if len(names) > 0 {
		content += "\n"
	}
	tmp := filepath.Join(dq.dir, ".order.tmp")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return &PersistError{Msg: "write order list", Wrapped: err}
	}
	if err := os.Rename(tmp, filepath.Join(dq.dir, orderListName)); err != nil {
		return &PersistError{Msg: "commit order list", Wrapped: err}
	}
	return nil
}

func genFilename(kind Kind) string {
	return fmt.Sprintf("%s-%s.rec", kind, uuid.New().String())
}

// append writes it to a hidden staging file, renames it into place, and
// appends its name to the order list. order is the current full order
// (read fresh by the caller via load, or tracked incrementally); append
// returns the updated order and the filename assigned.
func (dq *diskQueue) append(it Item, order []string) (string, []string, error) {
	name := it.Filename
	if name == "" {
		name = genFilename(it.Kind)
	}
	staging := filepath.Join(dq.dir, ".add."+name)
	final := filepath.Join(dq.dir, name)
	if err := os.WriteFile(staging, []byte(it.Encode()), 0o644); err != nil {
		return "", order, &PersistError{Msg: "stage item " + name, Wrapped: err}
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.Remove(staging)
		return "", order, &PersistError{Msg: "commit item " + name, Wrapped: err}
	}
	newOrder := append(append([]string(nil), order...), name)
	if err := dq.writeOrder(newOrder); err != nil {
		_ = os.Remove(final)
		return "", order, err
	}
	return name, newOrder, nil
}

// insertAt is append's counterpart for a non-tail position; out-of-range
// index falls back to append.
func (dq *diskQueue) insertAt(it Item, index int, order []string) (string, []string, error) {
	if index < 0 || index >= len(order) {
		return dq.append(it, order)
	}
	name := it.Filename
	if name == "" {
		name = genFilename(it.Kind)
	}
	staging := filepath.Join(dq.dir, ".add."+name)
	final := filepath.Join(dq.dir, name)
	if err := os.WriteFile(staging, []byte(it.Encode()), 0o644); err != nil {
		return "", order, &PersistError{Msg: "stage item " + name, Wrapped: err}
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.Remove(staging)
		return "", order, &PersistError{Msg: "commit item " + name, Wrapped: err}
	}
	newOrder := make([]string, 0, len(order)+1)
	newOrder = append(newOrder, order[:index]...)
	newOrder = append(newOrder, name)
	newOrder = append(newOrder, order[index:]...)
	if err := dq.writeOrder(newOrder); err != nil {
		_ = os.Remove(final)
		return "", order, err
	}
	return name, newOrder, nil
}

// popAt renames the item at order[index] out of the listing and removes it
// from the order file, returning the updated order. The renamed-aside file
// is purged immediately; nothing in this module holds a live handle across
// a transaction boundary, so immediate purge is safe.
func (dq *diskQueue) popAt(index int, order []string) ([]string, error) {
	if index < 0 || index >= len(order) {
		return order, &EmptyQueueError{}
	}
	name := order[index]
	final := filepath.Join(dq.dir, name)
	staging := filepath.Join(dq.dir, ".del."+name)
	if err := os.Rename(final, staging); err != nil {
		return order, &PersistError{Msg: "stage removal of " + name, Wrapped: err}
	}
	newOrder := append(append([]string(nil), order[:index]...), order[index+1:]...)
	if err := dq.writeOrder(newOrder); err != nil {
		_ = os.Rename(staging, final)
		return order, err
	}
	_ = os.Remove(staging)
	return newOrder, nil
}

func (dq *diskQueue) removeAll(order []string) error {
	for _, name := range order {
		_ = os.Remove(filepath.Join(dq.dir, name))
	}
	return dq.writeOrder(nil)
}

// snapshot copies the queue directory's current contents to a fresh temp
// directory, for use as a commit-phase rollback point.
func (dq *diskQueue) snapshot() (string, error) {
	tmp, err := os.MkdirTemp("", "joboffice-blackboard-snap-*")
	if err != nil {
		return "", &PersistError{Msg: "create snapshot dir", Wrapped: err}
	}
	entries, err := os.ReadDir(dq.dir)
	if err != nil {
		return "", &PersistError{Msg: "read queue dir for snapshot", Wrapped: err}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dq.dir, e.Name()))
		if err != nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(tmp, e.Name()), data, 0o644); err != nil {
			return "", &PersistError{Msg: "write snapshot file", Wrapped: err}
		}
	}
	return tmp, nil
}

// restore replaces the queue directory's contents with those captured in
// snapshotDir, used when a commit fails partway through replaying a
// transaction's pending actions.
func (dq *diskQueue) restore(snapshotDir string) error {
	cur, err := os.ReadDir(dq.dir)
	if err != nil {
		return &RollbackError{Wrapped: err}
	}
	for _, e := range cur {
		if e.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(dq.dir, e.Name()))
	}
	entries, err := os.ReadDir(snapshotDir)
	if err != nil {
		return &RollbackError{Wrapped: err}
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(snapshotDir, e.Name()))
		if err != nil {
			return &RollbackError{Wrapped: err}
		}
		if err := os.WriteFile(filepath.Join(dq.dir, e.Name()), data, 0o644); err != nil {
			return &RollbackError{Wrapped: err}
		}
	}
	return nil
}

func removeSnapshot(dir string) { _ = os.RemoveAll(dir) }

// txOpKind enumerates the pending mutations buffered by a Queue
// transaction before being replayed against disk at commit.
type txOpKind int

const (
	opAppend txOpKind = iota
	opInsertAt
	opPopAt
	opRemoveAll
)

type txOp struct {
	kind  txOpKind
	item  Item
	index int
}

// Queue is the transactional, persisted, ordered store behind one of the
// Blackboard's six named queues. It pairs an in-memory view (`mem`) with a
// disk-backed view (`disk`); mutations inside a transaction apply to `mem`
// immediately and are logged for replay against `disk` at commit time.
// Grounded in blackboard/queue.py's TransactionalBlackboardQueue.
type Queue struct {
	Name string
	disk *diskQueue
	lock *sync.Mutex

	mem []Item

	// transaction state; rb is nil when no transaction is open.
	rb  []Item
	log []txOp
}

// NewQueue opens (or creates) a persisted queue rooted at dir, loading its
// current on-disk contents into memory. lock is the Blackboard-wide mutex
// shared across every queue so that cross-queue moves can be made atomic
// by the caller taking the lock once around several queue transactions.
func NewQueue(name, dir string, lock *sync.Mutex) (*Queue, error) {
	dq, err := newDiskQueue(dir)
	if err != nil {
		return nil, err
	}
	items, err := dq.load()
	if err != nil {
		return nil, err
	}
	return &Queue{Name: name, disk: dq, lock: lock, mem: items}, nil
}

// Length returns the current number of items.
func (q *Queue) Length() int { return len(q.mem) }

// IsEmpty reports whether the queue is empty.
func (q *Queue) IsEmpty() bool { return len(q.mem) == 0 }

// Get returns the item at index i without removing it.
func (q *Queue) Get(i int) (Item, bool) {
	if i < 0 || i >= len(q.mem) {
		return Item{}, false
	}
	return q.mem[i], true
}

// IndexOf returns the index of the item with the given filename, or -1.
func (q *Queue) IndexOf(filename string) int {
	for i, it := range q.mem {
		if it.Filename == filename {
			return i
		}
	}
	return -1
}

// Iterate returns a snapshot slice of the queue's current contents in
// order.
func (q *Queue) Iterate() []Item {
	out := make([]Item, len(q.mem))
	copy(out, q.mem)
	return out
}

// begin lazily snapshots mem the first time a transaction touches this
// queue. Safe to call multiple times within one outer transaction.
func (q *Queue) begin() {
	if q.rb == nil {
		q.rb = make([]Item, len(q.mem))
		copy(q.rb, q.mem)
		q.log = nil
	}
}

// Append adds it to the tail of the queue within the current transaction.
func (q *Queue) Append(it Item) Item {
	q.begin()
	if it.Filename == "" {
		it.Filename = genFilename(it.Kind)
	}
	q.mem = append(q.mem, it)
	q.log = append(q.log, txOp{kind: opAppend, item: it})
	return it
}

// InsertAt inserts it at index i, or appends if i is out of range.
func (q *Queue) InsertAt(it Item, i int) Item {
	q.begin()
	if it.Filename == "" {
		it.Filename = genFilename(it.Kind)
	}
	if i < 0 || i >= len(q.mem) {
		q.mem = append(q.mem, it)
		q.log = append(q.log, txOp{kind: opAppend, item: it})
		return it
	}
	q.mem = append(q.mem, Item{})
	copy(q.mem[i+1:], q.mem[i:])
	q.mem[i] = it
	q.log = append(q.log, txOp{kind: opInsertAt, item: it, index: i})
	return it
}

// PopAt removes and returns the item at index i.
func (q *Queue) PopAt(i int) (Item, error) {
	q.begin()
	if i < 0 || i >= len(q.mem) {
		return Item{}, &EmptyQueueError{QueueName: q.Name}
	}
	it := q.mem[i]
	q.mem = append(q.mem[:i:i], q.mem[i+1:]...)
	q.log = append(q.log, txOp{kind: opPopAt, item: it})
	return it, nil
}

// Pop removes and returns the item at the head of the queue.
func (q *Queue) Pop() (Item, error) {
	if q.IsEmpty() {
		return Item{}, &EmptyQueueError{QueueName: q.Name}
	}
	return q.PopAt(0)
}

// RemoveAll clears every item from the queue.
func (q *Queue) RemoveAll() {
	q.begin()
	q.mem = nil
	q.log = append(q.log, txOp{kind: opRemoveAll})
}

// abort restores mem from the transaction's snapshot; disk was never
// touched during the transaction, so there is nothing to undo there.
func (q *Queue) abort() {
	if q.rb == nil {
		return
	}
	q.mem = q.rb
	q.rb = nil
	q.log = nil
}

// touched reports whether a transaction has buffered any mutation against
// this queue (begin was called and not yet resolved by abort/finalize).
func (q *Queue) touched() bool { return q.rb != nil }

// snapshotForCommit takes a pre-replay snapshot of the on-disk directory,
// used by the owning Blackboard's two-phase cross-queue commit so that a
// failure partway through ANY touched queue's replay can restore every
// queue that had already replayed successfully, not just the one that
// failed.
func (q *Queue) snapshotForCommit() (string, error) {
	return q.disk.snapshot()
}

// replay applies the transaction's pending log against disk without
// touching q.rb/q.log, so the caller can decide, after attempting replay on
// every touched queue, whether to finalize or roll back the whole group.
func (q *Queue) replay() error {
	if len(q.log) == 0 {
		return nil
	}
	order := make([]string, 0, len(q.rb))
	for _, it := range q.rb {
		order = append(order, it.Filename)
	}

	for _, op := range q.log {
		var err error
		switch op.kind {
		case opAppend:
			_, order, err = q.disk.append(op.item, order)
		case opInsertAt:
			_, order, err = q.disk.insertAt(op.item, op.index, order)
		case opPopAt:
			idx := indexOfName(order, op.item.Filename)
			if idx < 0 {
				err = &UpdateError{Msg: "item not found on disk during commit: " + op.item.Filename}
				break
			}
			order, err = q.disk.popAt(idx, order)
		case opRemoveAll:
			err = q.disk.removeAll(order)
			order = nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// finalizeCommit drops the transaction's rollback snapshot and pending log
// after every touched queue in the group has replayed successfully.
func (q *Queue) finalizeCommit() {
	q.rb = nil
	q.log = nil
}

// rollbackCommit restores disk from snapshotDir and restores mem from the
// transaction's rollback snapshot. Used when some other queue in the same
// cross-queue transaction failed to replay, so this queue's otherwise-
// successful replay must be undone too.
func (q *Queue) rollbackCommit(snapshotDir string) error {
	if err := q.disk.restore(snapshotDir); err != nil {
		q.rb = nil
		q.log = nil
		return &RollbackError{Wrapped: err}
	}
	q.abort()
	return nil
}

func indexOfName(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

