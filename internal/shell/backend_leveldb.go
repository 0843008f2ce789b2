package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("cache backend closed")

// Key layout:
//
//	g:<bucket>           generation meta
//	m:<bucket>\x00<key>  entry meta (seq, size)
//	e:<bucket>\x00<key>  gob CachedResponse
const keySep = "\x00"

type generationMeta struct {
	Seq       uint64
	CreatedAt int64
}

type entryMeta struct {
	Seq  uint64
	Size int64
}

type bucketIndex struct {
	meta    generationMeta
	entries map[string]entryMeta
}

type opKind int

const (
	opOpen opKind = iota
	opPut
	opDelete
	opDropBucket
)

type diskOp struct {
	kind    opKind
	bucket  string
	key     string
	encoded []byte
	resp    *CachedResponse
	errc    chan opResult
}

type opResult struct {
	existed bool
	err     error
}

// LevelDBBackend persists generations in a leveldb directory. Reads go to the
// db (through an optional RAM LRU); all writes are applied by one goroutine.
// The RAM front only changes under mu, together with the index, so a read
// can never put back an entry a write has since replaced or removed.
type LevelDBBackend struct {
	maxBytes int64

	db  *leveldb.DB
	ram *ramCache

	mu        sync.Mutex
	buckets   map[string]*bucketIndex
	seq       uint64
	totalSize int64

	closed atomic.Bool
	ops    chan diskOp
	done   chan struct{}

	// afterDiskRead runs between the disk read and the RAM fill in Get.
	afterDiskRead func()
}

// NewLevelDBBackend opens (or creates) the db at path and rebuilds the index.
// maxBytes <= 0 disables the quota; ramMax <= 0 disables the RAM front.
func NewLevelDBBackend(path string, maxBytes, ramMax int64) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	d := &LevelDBBackend{
		maxBytes: maxBytes,
		db:       db,
		ram:      newRAMCache(ramMax, newRateLimitedLogger(nil, time.Minute)),
		buckets:  map[string]*bucketIndex{},
		ops:      make(chan diskOp, 256),
		done:     make(chan struct{}),
	}
	if err := d.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go d.writerLoop()
	return d, nil
}

func (d *LevelDBBackend) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	close(d.ops)
	<-d.done
	return d.db.Close()
}

func (d *LevelDBBackend) loadIndex() error {
	buckets := map[string]*bucketIndex{}
	var maxSeq uint64

	it := d.db.NewIterator(util.BytesPrefix([]byte("g:")), nil)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte("g:")))
		var meta generationMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		buckets[name] = &bucketIndex{meta: meta, entries: map[string]entryMeta{}}
		maxSeq = max(maxSeq, meta.Seq)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	var total int64
	it = d.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()
	for it.Next() {
		bucket, key, ok := strings.Cut(string(bytes.TrimPrefix(it.Key(), []byte("m:"))), keySep)
		if !ok {
			continue
		}
		idx, ok := buckets[bucket]
		if !ok {
			continue
		}
		var meta entryMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx.entries[key] = meta
		total += meta.Size
		maxSeq = max(maxSeq, meta.Seq)
	}
	if err := it.Error(); err != nil {
		return err
	}

	d.mu.Lock()
	d.buckets = buckets
	d.seq = maxSeq
	d.totalSize = total
	d.mu.Unlock()
	return nil
}

func entryKey(prefix, bucket, key string) []byte {
	return []byte(prefix + bucket + keySep + key)
}

func ramKey(bucket, key string) string {
	return bucket + keySep + key
}

func (d *LevelDBBackend) submit(ctx context.Context, op diskOp) (bool, error) {
	if d.closed.Load() {
		return false, ErrClosed
	}
	op.errc = make(chan opResult, 1)
	select {
	case d.ops <- op:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case res := <-op.errc:
		return res.existed, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (d *LevelDBBackend) OpenBucket(ctx context.Context, name string) error {
	_, err := d.submit(ctx, diskOp{kind: opOpen, bucket: name})
	return err
}

func (d *LevelDBBackend) HasBucket(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.buckets[name]
	return ok, nil
}

func (d *LevelDBBackend) Buckets(_ context.Context) ([]string, error) {
	d.mu.Lock()
	type named struct {
		name string
		seq  uint64
	}
	items := make([]named, 0, len(d.buckets))
	for n, idx := range d.buckets {
		items = append(items, named{n, idx.meta.Seq})
	}
	d.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out, nil
}

func (d *LevelDBBackend) DeleteBucket(ctx context.Context, name string) (bool, error) {
	return d.submit(ctx, diskOp{kind: opDropBucket, bucket: name})
}

// entrySeq returns the seq of the indexed entry; ok is false when absent.
// Callers hold mu.
func (d *LevelDBBackend) entrySeq(bucket, key string) (uint64, bool) {
	idx, ok := d.buckets[bucket]
	if !ok {
		return 0, false
	}
	m, ok := idx.entries[key]
	return m.Seq, ok
}

func (d *LevelDBBackend) Get(_ context.Context, bucket, key string) (*CachedResponse, error) {
	rk := ramKey(bucket, key)
	if ent, ok := d.ram.Get(rk); ok {
		return ent, nil
	}

	d.mu.Lock()
	seq, ok := d.entrySeq(bucket, key)
	d.mu.Unlock()
	if !ok {
		return nil, nil
	}

	b, err := d.db.Get(entryKey("e:", bucket, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	var ent CachedResponse
	if err := decodeGob(b, &ent); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	if d.afterDiskRead != nil {
		d.afterDiskRead()
	}

	// Fill the RAM front only if no write touched the entry meanwhile.
	d.mu.Lock()
	if cur, ok := d.entrySeq(bucket, key); ok && cur == seq {
		d.ram.Put(rk, &ent)
	}
	d.mu.Unlock()
	return &ent, nil
}

func (d *LevelDBBackend) Put(ctx context.Context, bucket, key string, resp *CachedResponse) error {
	b, err := encodeGob(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	_, err = d.submit(ctx, diskOp{kind: opPut, bucket: bucket, key: key, encoded: b, resp: resp})
	return err
}

func (d *LevelDBBackend) Delete(ctx context.Context, bucket, key string) (bool, error) {
	return d.submit(ctx, diskOp{kind: opDelete, bucket: bucket, key: key})
}

func (d *LevelDBBackend) Keys(_ context.Context, bucket string) ([]string, error) {
	d.mu.Lock()
	idx, ok := d.buckets[bucket]
	if !ok {
		d.mu.Unlock()
		return nil, nil
	}
	type keyed struct {
		key string
		seq uint64
	}
	items := make([]keyed, 0, len(idx.entries))
	for k, m := range idx.entries {
		items = append(items, keyed{k, m.Seq})
	}
	d.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out, nil
}

func (d *LevelDBBackend) Stats() BackendStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := BackendStats{Buckets: len(d.buckets), Bytes: d.totalSize}
	for _, idx := range d.buckets {
		st.Entries += len(idx.entries)
	}
	return st
}

// RAMSize is the bytes held by the RAM front.
func (d *LevelDBBackend) RAMSize() int64 {
	return d.ram.TotalSize()
}

func (d *LevelDBBackend) writerLoop() {
	defer close(d.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for op := range d.ops {
		var res opResult
		switch op.kind {
		case opOpen:
			_, res.err = d.applyOpen(op.bucket, nil)
		case opPut:
			res.err = d.applyPut(op.bucket, op.key, op.encoded, op.resp)
		case opDelete:
			res.existed, res.err = d.applyDelete(op.bucket, op.key)
		case opDropBucket:
			res.existed, res.err = d.applyDropBucket(op.bucket)
		}
		op.errc <- res
	}
}

// applyOpen registers bucket if missing. With a batch it only stages the
// write; the caller commits.
func (d *LevelDBBackend) applyOpen(bucket string, batch *leveldb.Batch) (*bucketIndex, error) {
	d.mu.Lock()
	idx, ok := d.buckets[bucket]
	if ok {
		d.mu.Unlock()
		return idx, nil
	}
	d.seq++
	idx = &bucketIndex{
		meta:    generationMeta{Seq: d.seq, CreatedAt: time.Now().Unix()},
		entries: map[string]entryMeta{},
	}
	d.mu.Unlock()

	mb, err := encodeGob(idx.meta)
	if err != nil {
		return nil, err
	}
	commit := batch == nil
	if commit {
		batch = new(leveldb.Batch)
	}
	batch.Put([]byte("g:"+bucket), mb)
	if commit {
		if err := d.db.Write(batch, nil); err != nil {
			return nil, fmt.Errorf("leveldb write: %w", err)
		}
	}

	d.mu.Lock()
	d.buckets[bucket] = idx
	d.mu.Unlock()
	return idx, nil
}

func (d *LevelDBBackend) applyPut(bucket, key string, encoded []byte, resp *CachedResponse) error {
	size := int64(len(encoded))

	d.mu.Lock()
	var old int64
	if idx, ok := d.buckets[bucket]; ok {
		old = idx.entries[key].Size
	}
	over := d.maxBytes > 0 && d.totalSize-old+size > d.maxBytes
	d.mu.Unlock()
	if over {
		return ErrQuotaExceeded
	}

	batch := new(leveldb.Batch)
	idx, err := d.applyOpen(bucket, batch)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.seq++
	meta := entryMeta{Seq: d.seq, Size: size}
	d.mu.Unlock()

	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}
	batch.Put(entryKey("e:", bucket, key), encoded)
	batch.Put(entryKey("m:", bucket, key), mb)
	if err := d.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write: %w", err)
	}

	d.mu.Lock()
	d.totalSize += size - idx.entries[key].Size
	idx.entries[key] = meta
	if resp != nil {
		d.ram.Put(ramKey(bucket, key), resp)
	}
	d.mu.Unlock()
	return nil
}

func (d *LevelDBBackend) applyDelete(bucket, key string) (bool, error) {
	d.mu.Lock()
	idx, ok := d.buckets[bucket]
	if ok {
		_, ok = idx.entries[key]
	}
	d.mu.Unlock()
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete(entryKey("e:", bucket, key))
	batch.Delete(entryKey("m:", bucket, key))
	if err := d.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("leveldb write: %w", err)
	}
	d.mu.Lock()
	d.totalSize -= idx.entries[key].Size
	delete(idx.entries, key)
	d.ram.Delete(ramKey(bucket, key))
	d.mu.Unlock()
	return true, nil
}

func (d *LevelDBBackend) applyDropBucket(bucket string) (bool, error) {
	d.mu.Lock()
	idx, ok := d.buckets[bucket]
	var keys []string
	if ok {
		keys = make([]string, 0, len(idx.entries))
		for k := range idx.entries {
			keys = append(keys, k)
		}
	}
	d.mu.Unlock()
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete(entryKey("e:", bucket, k))
		batch.Delete(entryKey("m:", bucket, k))
	}
	batch.Delete([]byte("g:" + bucket))
	if err := d.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("leveldb write: %w", err)
	}
	d.mu.Lock()
	d.ram.DeletePrefix(bucket + keySep)
	for _, m := range idx.entries {
		d.totalSize -= m.Size
	}
	delete(d.buckets, bucket)
	d.mu.Unlock()
	return true, nil
}
