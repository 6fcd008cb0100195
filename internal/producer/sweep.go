package producer

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"dupmill/internal/policy"
	"dupmill/internal/storage"
	"dupmill/internal/task"
)

// deletionFlushSize bounds how many pending deletions accumulate before
// being enqueued, keeping memory use flat regardless of space size.
const deletionFlushSize = 10000

// sweep finds content present on the destination but absent from the
// source and enqueues duplication tasks for it (the processor
// reconciles these as deletions). Source ids are streamed into a
// scratch on-disk membership set so the whole pass runs in bounded
// memory no matter how large the space is; the set is removed before
// returning, on every path.
func (p *Producer) sweep(ctx context.Context, account, spaceID string, sp policy.StorePolicy, src, dst storage.Provider, queuedTasks map[task.Identity]struct{}) error {
	exists, err := dst.SpaceExists(ctx, spaceID)
	if err != nil {
		return fmt.Errorf("failed to check destination space existence: %w", err)
	}
	if !exists {
		p.Logger.Info("destination space does not exist, skipping deletion sweep",
			zap.String("account", account), zap.String("spaceId", spaceID))
		return nil
	}

	members, cleanup, err := p.openScratchMembershipSet(account, spaceID)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := populateMembershipSet(ctx, members, src, spaceID); err != nil {
		return fmt.Errorf("failed to populate membership set: %w", err)
	}

	deletionCount, err := p.enqueueDeletions(ctx, members, dst, account, spaceID, sp, queuedTasks)
	if err != nil {
		return err
	}

	p.Logger.Info("deletion sweep complete",
		zap.Int("deletions", deletionCount),
		zap.String("account", account), zap.String("spaceId", spaceID),
		zap.String("srcStoreId", sp.SrcStoreID), zap.String("dstStoreId", sp.DstStoreID))
	return nil
}

func (p *Producer) openScratchMembershipSet(account, spaceID string) (*badger.DB, func(), error) {
	dir, err := os.MkdirTemp(p.ScratchDir, fmt.Sprintf("sweep-%s-%s-", account, spaceID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open scratch membership set: %w", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}
	return db, cleanup, nil
}

func populateMembershipSet(ctx context.Context, members *badger.DB, src storage.Provider, spaceID string) error {
	idCh, errCh := src.ListSpace(ctx, spaceID, "")

	wb := members.NewWriteBatch()
	defer wb.Cancel()

	empty := []byte{}
	for id := range idCh {
		if err := wb.Set([]byte(id), empty); err != nil {
			return err
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("failed to list source space: %w", err)
	}

	return wb.Flush()
}

func (p *Producer) enqueueDeletions(ctx context.Context, members *badger.DB, dst storage.Provider, account, spaceID string, sp policy.StorePolicy, queuedTasks map[task.Identity]struct{}) (int, error) {
	idCh, errCh := dst.ListSpace(ctx, spaceID, "")

	var pending []string
	total := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		added, err := p.addToTaskQueue(ctx, account, spaceID, sp, pending, queuedTasks)
		if err != nil {
			return err
		}
		total += added
		pending = nil
		return nil
	}

	for id := range idCh {
		found := false
		err := members.View(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte(id))
			if err == badger.ErrKeyNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("failed to check membership for %s: %w", id, err)
		}
		if found {
			continue
		}

		pending = append(pending, id)
		if len(pending) == deletionFlushSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return total, fmt.Errorf("failed to list destination space: %w", err)
	}

	if err := flush(); err != nil {
		return total, err
	}

	return total, nil
}
