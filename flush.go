package flatkv

import (
	"fmt"
	"time"

	"github.com/tkoivu/flatkv/memtable"
	"github.com/tkoivu/flatkv/table"
)

// backgroundFlusher is the single flush coordinator. It drains the
// queue of frozen write buffers in FIFO order, which is also recency
// order, writing each one out as the next on-disk table. One unit at a
// time, so tables appear in strict sequence-id order with no gaps.
func (e *engine) backgroundFlusher() {
	defer e.flushWg.Done()

	for {
		e.mu.Lock()
		// Wait until there's a frozen buffer to flush. The unit stays
		// at the head of the queue until its table is durable, so
		// concurrent Gets keep seeing its data throughout.
		for len(e.queue) == 0 {
			if e.state.Load() != dbOpen {
				e.mu.Unlock()
				return
			}
			e.flushTrigger.Wait()
		}
		unit := e.queue[0]
		e.mu.Unlock()

		if err := e.flushUnit(unit); err != nil {
			// Retry budget exhausted. Record the failure, wake anyone
			// draining in close, and go home; the DB is done writing.
			e.mu.Lock()
			e.flushErr = fmt.Errorf("%w: table %d: %v", ErrFlushFailed, unit.Seq(), err)
			e.flushDone.Broadcast()
			e.mu.Unlock()
			return
		}
	}
}

// flushUnit writes one frozen buffer as a table, retrying on I/O
// failure. The sequence id was reserved when the buffer was frozen and
// is reused across attempts, so the 0..count-1 table range stays
// contiguous no matter how many tries it takes.
func (e *engine) flushUnit(unit *memtable.FlushUnit) error {
	attempt := 0
	for {
		start := time.Now()
		err := table.WriteTable(e.path, unit, e.compressor, e.logger)
		if err == nil {
			err = e.manifest.Commit(unit.Seq() + 1)
		}
		if err == nil {
			// Table and metadata are durable; now it may be read from
			// disk and the frozen buffer can leave the queue.
			e.mu.Lock()
			e.numTables = unit.Seq() + 1
			e.queue = e.queue[1:]
			e.flushDone.Broadcast()
			e.mu.Unlock()

			e.logger.Info("Flushed table",
				"seq", unit.Seq(),
				"entries", unit.Len(),
				"bytes", unit.Size(),
				"elapsed", time.Since(start))
			return nil
		}

		attempt++
		e.reportFlushError(fmt.Errorf("flush table %d (attempt %d): %w", unit.Seq(), attempt, err))
		if e.options.MaxFlushRetries > 0 && attempt >= e.options.MaxFlushRetries {
			return err
		}
		time.Sleep(e.options.FlushRetryDelay)
	}
}

// reportFlushError logs a background failure and offers it on the
// error channel. The channel is buffered; when nobody listens the
// error is dropped rather than wedging the flusher.
func (e *engine) reportFlushError(err error) {
	e.logger.Error("Background flush failed", "error", err)
	select {
	case e.errCh <- err:
	default:
	}
}
