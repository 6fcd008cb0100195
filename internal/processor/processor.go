// Package processor reconciles one duplication task: it brings a
// single content item, or an entire space, into agreement between a
// source and destination storage provider.
package processor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dupmill/internal/retrier"
	"dupmill/internal/storage"
	"dupmill/internal/task"
)

// Processor reconciles individual tasks against a fixed source and
// destination provider pair.
type Processor struct {
	Source        storage.Provider
	Dest          storage.Provider
	RetrierConfig retrier.Config
	Logger        *zap.Logger
}

// Process brings task.SpaceID/task.ContentID on Dest into agreement
// with Source. An empty ContentID denotes a space-level reconciliation
// rather than a single item. It returns the number of content bytes
// copied to Dest, zero for every outcome but an actual content copy.
// Every error it returns is a *FatalError, including a storage
// failure that persisted after the underlying Retrier exhausted its
// attempts.
func (p *Processor) Process(ctx context.Context, t task.Task) (int64, error) {
	if t.SpaceID == "" {
		return 0, fatalf("spaceId is empty for task in account %s", t.Account)
	}

	if t.ContentID == "" {
		return 0, p.reconcileSpace(ctx, t.SpaceID)
	}

	return p.reconcileContent(ctx, t)
}

// reconcileSpace handles the no-content-id case: if the source space
// still exists, make sure the destination has a matching space. If the
// source space is gone, delete the destination space only if it is
// already empty — a non-empty destination space is left alone so an
// in-flight duplication elsewhere is never clobbered by a stale delete.
func (p *Processor) reconcileSpace(ctx context.Context, spaceID string) error {
	srcExists, err := p.spaceExists(ctx, p.Source, spaceID)
	if err != nil {
		return err
	}
	if srcExists {
		return p.ensureDestSpace(ctx, spaceID)
	}

	destExists, err := p.spaceExists(ctx, p.Dest, spaceID)
	if err != nil {
		return err
	}
	if !destExists {
		return nil
	}

	ids, err := retrier.Do(ctx, p.RetrierConfig, func() ([]string, error) {
		return p.Dest.ListSpaceChunk(ctx, spaceID, "", 1)
	})
	if err != nil {
		return fatalf("failed to list destination space %s: %v", spaceID, err)
	}
	if len(ids) > 0 {
		return nil
	}

	if _, err := retrier.Do(ctx, p.RetrierConfig, func() (struct{}, error) {
		return struct{}{}, p.Dest.DeleteSpace(ctx, spaceID)
	}); err != nil {
		return fatalf("failed to delete destination space %s: %v", spaceID, err)
	}
	return nil
}

// reconcileContent handles the six-way content-level case table.
func (p *Processor) reconcileContent(ctx context.Context, t task.Task) (int64, error) {
	spaceID, contentID := t.SpaceID, t.ContentID

	if err := p.ensureDestSpace(ctx, spaceID); err != nil {
		return 0, err
	}

	srcProps, err := p.contentProperties(ctx, p.Source, spaceID, contentID)
	if err != nil {
		return 0, err
	}
	destProps, err := p.contentProperties(ctx, p.Dest, spaceID, contentID)
	if err != nil {
		return 0, err
	}

	if srcProps == nil {
		if destProps != nil {
			p.Logger.Info("duplicating deletion",
				zap.String("account", t.Account), zap.String("spaceId", spaceID), zap.String("contentId", contentID))
			return 0, p.duplicateDeletion(ctx, spaceID, contentID)
		}
		return 0, nil
	}

	srcChecksum := srcProps[storage.PropContentChecksum]
	if srcChecksum == "" {
		return 0, fatalf("source content properties for %s/%s included no checksum", spaceID, contentID)
	}

	if destProps == nil {
		p.Logger.Info("duplicating content",
			zap.String("account", t.Account), zap.String("spaceId", spaceID), zap.String("contentId", contentID))
		return p.copyContent(ctx, spaceID, contentID, srcChecksum, srcProps)
	}

	destChecksum := destProps[storage.PropContentChecksum]
	if srcChecksum != destChecksum {
		p.Logger.Info("content checksums differ, duplicating content",
			zap.String("account", t.Account), zap.String("spaceId", spaceID), zap.String("contentId", contentID))
		return p.copyContent(ctx, spaceID, contentID, srcChecksum, srcProps)
	}

	if !propertiesEqual(cleanProperties(srcProps), cleanProperties(destProps)) {
		p.Logger.Info("checksums match but properties differ, duplicating properties",
			zap.String("account", t.Account), zap.String("spaceId", spaceID), zap.String("contentId", contentID))
		return 0, p.duplicateProperties(ctx, spaceID, contentID, srcProps)
	}

	return 0, nil
}

func (p *Processor) spaceExists(ctx context.Context, store storage.Provider, spaceID string) (bool, error) {
	exists, err := retrier.Do(ctx, p.RetrierConfig, func() (bool, error) {
		return store.SpaceExists(ctx, spaceID)
	})
	if err != nil {
		return false, fatalf("failed to check space existence for %s: %v", spaceID, err)
	}
	return exists, nil
}

// ensureDestSpace creates the destination space, tolerating a
// pre-existing one (Provider.CreateSpace already does this).
func (p *Processor) ensureDestSpace(ctx context.Context, spaceID string) error {
	if _, err := retrier.Do(ctx, p.RetrierConfig, func() (struct{}, error) {
		return struct{}{}, p.Dest.CreateSpace(ctx, spaceID)
	}); err != nil {
		return fatalf("failed to ensure destination space %s exists: %v", spaceID, err)
	}
	return nil
}

// contentProperties returns nil, nil if contentId is absent from
// store, and wraps any other failure as fatal.
func (p *Processor) contentProperties(ctx context.Context, store storage.Provider, spaceID, contentID string) (map[string]string, error) {
	props, err := retrier.Do(ctx, p.RetrierConfig, func() (map[string]string, error) {
		props, err := store.GetContentProperties(ctx, spaceID, contentID)
		if storage.IsNotFound(err) {
			return nil, retrier.NotFound(err)
		}
		return props, err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fatalf("failed to get content properties for %s/%s: %v", spaceID, contentID, err)
	}
	return props, nil
}

func (p *Processor) duplicateProperties(ctx context.Context, spaceID, contentID string, sourceProperties map[string]string) error {
	cleaned := cleanProperties(sourceProperties)
	if _, err := retrier.Do(ctx, p.RetrierConfig, func() (struct{}, error) {
		return struct{}{}, p.Dest.SetContentProperties(ctx, spaceID, contentID, cleaned)
	}); err != nil {
		return fatalf("failed to duplicate properties for %s/%s: %v", spaceID, contentID, err)
	}
	return nil
}

func (p *Processor) duplicateDeletion(ctx context.Context, spaceID, contentID string) error {
	if _, err := retrier.Do(ctx, p.RetrierConfig, func() (struct{}, error) {
		err := p.Dest.DeleteContent(ctx, spaceID, contentID)
		if storage.IsNotFound(err) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}); err != nil {
		return fatalf("failed to delete destination content for %s/%s: %v", spaceID, contentID, err)
	}
	return nil
}
