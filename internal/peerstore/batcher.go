package peerstore

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

type kv struct {
	bucket string
	k, v   []byte // v == nil means delete
}

// batcher coalesces digest-to-path index mutations into periodic bbolt
// transactions, trading a small durability window for far fewer fsyncs
// under sustained write load.
type batcher struct {
	db *bolt.DB
	ch chan kv
}

func newBatcher(db *bolt.DB) *batcher {
	b := &batcher{db: db, ch: make(chan kv, 1024)}
	go b.loop()
	return b
}

func (b *batcher) put(bucket string, k, v []byte) { b.ch <- kv{bucket: bucket, k: k, v: v} }

func (b *batcher) loop() {
	buf := make([]kv, 0, 100)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		_ = b.db.Update(func(tx *bolt.Tx) error {
			for _, p := range buf {
				bk := tx.Bucket([]byte(p.bucket))
				if bk == nil {
					continue
				}
				if p.v == nil {
					_ = bk.Delete(p.k)
					continue
				}
				_ = bk.Put(p.k, p.v)
			}
			return nil
		})
		buf = buf[:0]
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case p := <-b.ch:
			buf = append(buf, p)
			if len(buf) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
