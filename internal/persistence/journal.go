// Package persistence keeps an append only journal of the requests a client
// sends, in RESP request encoding, so a session can be replayed later.
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Fsync controls when the journal reaches the disk
type Fsync int

const (
	FsyncAlways   Fsync = iota + 1 // after every drained batch
	FsyncEverySec                  // once per second
	FsyncNo                        // left to the OS
)

// ParseFsync maps the config spelling onto a Fsync. Empty means everysec
func ParseFsync(s string) (Fsync, error) {
	switch s {
	case "always":
		return FsyncAlways, nil
	case "everysec", "":
		return FsyncEverySec, nil
	case "no":
		return FsyncNo, nil
	}
	return 0, fmt.Errorf("persistence: unknown fsync policy %q", s)
}

const queueSize = 10000

// Journal appends encoded request batches to a file from a single goroutine
type Journal struct {
	path  string
	fsync Fsync

	file *os.File
	w    *bufio.Writer

	// mu orders every queue send before the final drain in Close
	mu     sync.RWMutex
	closed bool

	queue chan []byte
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	batches atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64

	log *zap.Logger
}

// Open creates or extends the journal at path
func Open(path, fsync string, log *zap.Logger) (*Journal, error) {
	policy, err := ParseFsync(fsync)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}

	j := &Journal{
		path:  path,
		fsync: policy,
		file:  f,
		w:     bufio.NewWriter(f),
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
		log:   log.Named("journal").With(zap.String("file", path)),
	}

	j.wg.Add(1)
	go j.run()

	return j, nil
}

// Path returns the file the journal writes to
func (j *Journal) Path() string { return j.path }

// Write queues a batch of encoded requests. It blocks while the queue is full
// and drops the batch once the journal is closed. p must not be modified afterwards
func (j *Journal) Write(p []byte) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.dropped.Add(1)
		j.log.Debug("journal closed, dropping batch", zap.Int("bytes", len(p)))
		return
	}
	j.queue <- p
}

// Stats reports how many batches and bytes reached the file buffer
func (j *Journal) Stats() (batches, bytes int64) {
	return j.batches.Load(), j.bytes.Load()
}

// Dropped reports how many batches arrived after Close
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) run() {
	defer j.wg.Done()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case p := <-j.queue:
			j.append(p)
			j.drain()
			if j.fsync == FsyncAlways {
				j.sync()
			}

		case <-tick.C:
			if j.fsync == FsyncEverySec {
				j.sync()
			}

		case <-j.done:
			j.drain()
			j.sync()
			return
		}
	}
}

// drain appends whatever is already queued without waiting for more
func (j *Journal) drain() {
	for {
		select {
		case p := <-j.queue:
			j.append(p)
		default:
			return
		}
	}
}

func (j *Journal) append(p []byte) {
	if _, err := j.w.Write(p); err != nil {
		j.log.Error("journal write failed", zap.Error(err))
		return
	}
	j.batches.Add(1)
	j.bytes.Add(int64(len(p)))
}

func (j *Journal) sync() {
	if err := j.w.Flush(); err != nil {
		j.log.Error("journal flush failed", zap.Error(err))
		return
	}
	if j.fsync == FsyncNo {
		return
	}
	if err := j.file.Sync(); err != nil {
		j.log.Error("journal fsync failed", zap.Error(err))
	}
}

// Close writes out everything queued and closes the file. It is safe to call twice
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()

		close(j.done)
		j.wg.Wait()

		batches, size := j.Stats()
		j.log.Debug("journal closed", zap.Int64("batches", batches), zap.Int64("bytes", size))
		err = j.file.Close()
	})
	return err
}
