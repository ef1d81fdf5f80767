// Package engine is the top-level entry point: it owns the PageStore,
// BufferCache, FreeSpaceIndex, WAL, DataManager, XIDStore, and
// LockTable, wires recovery at open, and exposes the public
// transactional API of spec.md §4.11/§6 (begin/commit/abort/read/
// insert/delete) as Engine methods.
package engine

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"tur/pkg/datamanager"
	"tur/pkg/mvcc"
	"tur/pkg/pager"
	"tur/pkg/recovery"
	"tur/pkg/wal"
	"tur/pkg/xidstore"
)

var (
	// ErrDatabaseClosed is returned when attempting operations on a
	// closed engine.
	ErrDatabaseClosed = errors.New("engine: database is closed")

	// ErrDatabaseLocked is returned when the database file is already
	// locked by another process.
	ErrDatabaseLocked = errors.New("engine: database is locked by another connection")

	// ErrUnknownTransaction is returned when a caller uses an xid the
	// engine has no record of.
	ErrUnknownTransaction = errors.New("engine: unknown transaction")
)

// Options configures Open. MemoryBytes mirrors spec.md §6's
// `open(memoryBytes)`: page cache capacity is derived as
// MemoryBytes/4096 unless CacheCapacity overrides it directly.
type Options struct {
	// MemoryBytes sizes the buffer cache: capacity = MemoryBytes/4096.
	MemoryBytes int64

	// CacheCapacity, if nonzero, overrides the MemoryBytes-derived
	// buffer cache capacity directly (pages, not bytes).
	CacheCapacity int

	// Logger receives structured diagnostics (recovery, deadlocks, WAL
	// checksum mismatch). A nil Logger discards all output.
	Logger *logrus.Logger
}

const defaultCacheCapacity = 256

// Engine is an open database: the `.db` heap file, `.log` WAL, and
// `.xid` status file, plus the in-memory structures layered on top of
// them.
type Engine struct {
	mu sync.RWMutex

	path     string
	lockFile *os.File

	store   *pager.PageStore
	pages   *pager.BufferCache
	free    *pager.FreeSpaceIndex
	log     *wal.Logger
	xids    *xidstore.Store
	dm      *datamanager.Manager
	locks   *mvcc.LockTable
	vis     *mvcc.Visibility
	entries *mvcc.Cache

	txMu sync.Mutex
	txs  map[uint64]*transaction

	logger *logrus.Logger
	closed bool
}

type transaction struct {
	xid         uint64
	level       mvcc.Isolation
	snapshot    mvcc.Snapshot
	autoAborted bool
}

// Open opens (creating if absent) the database rooted at path, i.e.
// path+".db", path+".log", path+".xid", path+".lock". Recovery runs
// automatically if the header page's clean-shutdown check fails.
func Open(path string, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discardWriter{})
	}

	lf, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(lf); err != nil {
		lf.Close()
		return nil, err
	}

	store, err := pager.OpenPageStore(path + ".db")
	if err != nil {
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	capacity := opts.CacheCapacity
	if capacity == 0 {
		capacity = int(opts.MemoryBytes / 4096)
	}
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	pages := pager.NewBufferCache(store, capacity)

	logFile, err := wal.Open(path+".log", wal.WithLogger(logger))
	if err != nil {
		store.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	xids, err := xidstore.Open(path + ".xid")
	if err != nil {
		logFile.Close()
		store.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	free := pager.NewFreeSpaceIndex()
	dm := datamanager.New(pages, free, logFile)

	headerPage, err := pages.Get(1)
	if err != nil {
		xids.Close()
		logFile.Close()
		store.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}
	needsRecovery := !headerPage.CleanShutdown()
	pages.Release(1)

	if needsRecovery {
		logger.Warn("engine: unclean shutdown detected, running recovery")
		r := recovery.New(pages, logFile, xids, logger)
		if err := r.Run(); err != nil {
			xids.Close()
			logFile.Close()
			store.Close()
			unlockFile(lf)
			lf.Close()
			return nil, err
		}
	}

	if err := dm.RebuildFreeSpaceIndex(); err != nil {
		xids.Close()
		logFile.Close()
		store.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	e := &Engine{
		path:     path,
		lockFile: lf,
		store:    store,
		pages:   pages,
		free:    free,
		log:     logFile,
		xids:    xids,
		dm:      dm,
		locks:   mvcc.NewLockTable(logger),
		vis:     mvcc.New(xids),
		entries: mvcc.NewCache(dm),
		txs:     make(map[uint64]*transaction),
		logger:  logger,
	}
	return e, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Close flushes all dirty pages, writes the clean-shutdown marker, and
// releases the file lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrDatabaseClosed
	}
	e.closed = true

	if err := e.pages.FlushAll(); err != nil {
		return err
	}

	headerPage, err := e.pages.Get(1)
	if err == nil {
		headerPage.MarkCleanShutdown()
		headerPage.SetDirty(true)
		e.pages.Release(1)
		if err := e.pages.FlushAll(); err != nil {
			return err
		}
	}

	var firstErr error
	if err := e.xids.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unlockFile(e.lockFile); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.lockFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BeginXID starts a new transaction at the given isolation level and
// returns its raw xid, for callers that want to manage the transaction
// lifecycle themselves rather than through a Tx. Most callers should
// use Begin/BeginLevel/BeginContext instead.
func (e *Engine) BeginXID(level mvcc.Isolation) (uint64, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return 0, ErrDatabaseClosed
	}

	e.txMu.Lock()
	defer e.txMu.Unlock()

	xid, err := e.xids.Begin()
	if err != nil {
		return 0, err
	}

	active := make([]uint64, 0, len(e.txs))
	for x := range e.txs {
		active = append(active, x)
	}

	tx := &transaction{xid: xid, level: level, snapshot: mvcc.NewSnapshot(active)}
	e.txs[xid] = tx
	return xid, nil
}

func (e *Engine) view(xid uint64) (mvcc.View, *transaction, error) {
	e.txMu.Lock()
	tx, ok := e.txs[xid]
	e.txMu.Unlock()
	if !ok {
		return mvcc.View{}, nil, ErrUnknownTransaction
	}
	return mvcc.View{XID: tx.xid, Level: tx.level, Snapshot: tx.snapshot}, tx, nil
}

// Read returns the bytes visible to xid at uid, or nil if no visible
// version exists.
func (e *Engine) Read(xid, uid uint64) ([]byte, error) {
	view, _, err := e.view(xid)
	if err != nil {
		return nil, err
	}

	entry, err := e.entries.Get(uid)
	if err != nil {
		return nil, err
	}
	defer e.entries.Release(uid)
	if entry == nil {
		return nil, nil
	}

	if !e.vis.IsVisible(view, entry) {
		return nil, nil
	}
	return entry.UserData(), nil
}

// Insert creates a new entry owned by xid and returns its uid.
func (e *Engine) Insert(xid uint64, data []byte) (uint64, error) {
	if _, _, err := e.view(xid); err != nil {
		return 0, err
	}
	return e.entries.Insert(xid, data)
}

// Delete marks uid deleted by xid, acquiring the write lock on uid
// first (blocking, or failing immediately with mvcc.ErrDeadlock).
// Returns false if uid is not visible to xid or was already deleted by
// xid (double-delete guard).
func (e *Engine) Delete(xid, uid uint64) (bool, error) {
	view, tx, err := e.view(xid)
	if err != nil {
		return false, err
	}

	entry, err := e.entries.Get(uid)
	if err != nil {
		return false, err
	}
	defer e.entries.Release(uid)
	if entry == nil {
		return false, nil
	}

	if !e.vis.IsVisible(view, entry) {
		return false, nil
	}

	waiter, err := e.locks.Acquire(xid, uid)
	if err != nil {
		if errors.Is(err, mvcc.ErrDeadlock) {
			tx.autoAborted = true
			_ = e.Abort(xid)
		}
		return false, err
	}
	if waiter != nil {
		waiter.Wait()
	}

	if entry.XDEL() == xid {
		return false, nil
	}

	if err := entry.SetXDEL(xid, e.log); err != nil {
		return false, err
	}
	return true, nil
}

// Commit durably commits xid: releases its locks, removes it from the
// active set, and flips its XID status to committed.
func (e *Engine) Commit(xid uint64) error {
	e.txMu.Lock()
	tx, ok := e.txs[xid]
	if ok {
		delete(e.txs, xid)
	}
	e.txMu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}

	e.locks.Release(tx.xid)
	return e.xids.Commit(xid)
}

// Abort rolls back xid's bookkeeping: removes it from the active set
// and flips its XID status to aborted. Its already-written effects
// stay on their pages: recovery undoes only xids that are still active,
// so an aborted xid's records are neither redone nor undone, and its
// versions stay hidden because visibility never treats the aborted xid
// as committed. If the
// transaction was auto-aborted from inside Delete's lock path, its
// locks were never granted past the failed Acquire and are not
// released again here.
func (e *Engine) Abort(xid uint64) error {
	e.txMu.Lock()
	tx, ok := e.txs[xid]
	if ok {
		delete(e.txs, xid)
	}
	e.txMu.Unlock()
	if !ok {
		return ErrUnknownTransaction
	}

	if !tx.autoAborted {
		e.locks.Release(tx.xid)
	}
	return e.xids.Abort(xid)
}

// Path returns the database's file path prefix.
func (e *Engine) Path() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path
}

// IsClosed reports whether Close has been called.
func (e *Engine) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
