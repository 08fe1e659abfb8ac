package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// outcome is the result of offering one post to one platform.
type outcome int

const (
	outcomeRecorded outcome = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeFailed
)

// SyncPosts runs the post pass for acct.
//
// The feed is read newest first up to the mode's limit. A feed error ends the
// pass and is returned; everything already recorded stays recorded. A
// cancelled ctx stops evaluation of further posts and sets
// Report.Interrupted, while a dispatch already in flight is completed and
// recorded.
func (e *Engine) SyncPosts(ctx context.Context, acct Account, mode RunMode) (Report, error) {
	rep := Report{Account: acct.Handle, Mode: mode}
	logger := e.logger.With("account", acct.Handle, "mode", mode.String())

	var handles []*platform.Handle
	if acct.Registry != nil {
		handles = acct.Registry.With(platform.CapPost)
	}
	if len(handles) == 0 {
		logger.Info("no post-capable platform configured, skipping posts")
		return rep, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.SyncPosts", trace.WithAttributes(
		attribute.String("account", acct.Handle),
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	consecutive := 0
	for raw, err := range e.source.Posts(ctx, acct.Handle, e.limit(mode)) {
		if err != nil {
			if ctx.Err() != nil {
				rep.Interrupted = true
				break
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "feed")
			return rep, fmt.Errorf("sync posts %s: %w", acct.Handle, err)
		}
		rep.Pulled++

		if ctx.Err() != nil {
			rep.Interrupted = true
			break
		}

		rec, err := post.Normalize(raw)
		if err != nil {
			rep.Invalid++
			logger.Warn("dropping malformed post", "error", err)
			continue
		}
		plog := logger.With("post_id", rec.ID)

		if !e.forceResync && !e.forceRepost {
			synced, err := e.ledger.IsSynced(ctx, rec.ID)
			if err != nil {
				span.RecordError(err)
				return rep, fmt.Errorf("sync posts %s: %w", acct.Handle, err)
			}
			if synced {
				rep.Cached++
				consecutive++
				plog.Debug("post already synced", "consecutive", consecutive)
				if consecutive >= e.maxCached {
					rep.CaughtUp = true
					logger.Debug("caught up", "threshold", e.maxCached)
					break
				}
				continue
			}
		}
		consecutive = 0

		// The post is committed to from here on; finish it even if ctx is
		// cancelled meanwhile.
		dctx := context.WithoutCancel(ctx)
		plog.Info("syncing post", "excerpt", post.Excerpt(rec.Text))
		rep.Dispatched++

		for _, oc := range e.dispatch(dctx, plog, handles, rec) {
			switch oc {
			case outcomeRecorded:
				rep.Recorded++
			case outcomeSkipped:
				rep.Skipped++
			case outcomeFailed:
				rep.Failures++
			}
		}

		if err := e.ledger.MarkSynced(dctx, rec.ID, acct.Handle); err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("sync posts %s: %w", acct.Handle, err)
		}
	}

	span.SetAttributes(
		attribute.Int("pulled", rep.Pulled),
		attribute.Int("dispatched", rep.Dispatched),
		attribute.Int("failures", rep.Failures),
		attribute.Bool("caught_up", rep.CaughtUp),
	)
	logger.Info("posts synced", "report", rep)
	return rep, nil
}

// dispatch offers rec to every handle and returns one outcome per handle in
// handle order. Media is downloaded at most once and shared.
func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, handles []*platform.Handle, rec post.Record) []outcome {
	set := media.NewSet(e.fetch, rec)
	out := make([]outcome, len(handles))

	if !e.parallel {
		for i, h := range handles {
			out[i] = e.dispatchOne(ctx, logger, h, rec, set)
		}
		return out
	}

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = e.dispatchOne(ctx, logger, h, rec, set)
		}()
	}
	wg.Wait()
	return out
}

func (e *Engine) dispatchOne(ctx context.Context, logger *slog.Logger, h *platform.Handle, rec post.Record, set *media.Set) outcome {
	logger = logger.With("platform", h.ID)

	blob, found, err := e.ledger.GetEntry(ctx, rec.ID, h.ID)
	if err != nil {
		logger.Error("store lookup failed", "error", err)
		return outcomeFailed
	}
	overwrite := e.forceRepost
	entry, err := h.Entry(blob, found)
	if err != nil {
		logger.Warn("ignoring invalid store entry", "error", err)
		overwrite = true
	}
	if e.forceRepost {
		entry = platform.Entry{}
	}

	refs := platform.RefFunc(func(ctx context.Context, postID string) (platform.Entry, error) {
		return e.lookup(ctx, logger, h, postID)
	})

	value, err := h.Post.SyncPost(ctx, platform.PostRequest{
		Post:  rec,
		Entry: entry,
		Media: set,
		Refs:  refs,
		Log:   logger,
	})
	if err != nil {
		err = platform.WithPost(err, rec.ID)
		logger.Error("platform sync failed", "error", err, "code", string(platform.CodeOf(err)))
		return outcomeFailed
	}
	if len(value) == 0 {
		logger.Info("platform skipped post")
		return outcomeSkipped
	}
	if entry.Found() && bytes.Equal(value, entry.Value) {
		return outcomeUnchanged
	}
	if _, err := h.Entry(value, true); err != nil {
		logger.Error("platform returned an invalid store value", "error", err)
		return outcomeFailed
	}

	written, err := e.ledger.PutEntry(ctx, rec.ID, h.ID, value, overwrite)
	if err != nil {
		logger.Error("store write failed", "error", err)
		return outcomeFailed
	}
	if !written {
		return outcomeUnchanged
	}
	logger.Info("post recorded")
	return outcomeRecorded
}

// lookup returns the validated store entry of (postID, h). An entry that
// fails validation is reported as missing.
func (e *Engine) lookup(ctx context.Context, logger *slog.Logger, h *platform.Handle, postID string) (platform.Entry, error) {
	blob, found, err := e.ledger.GetEntry(ctx, postID, h.ID)
	if err != nil {
		return platform.Entry{}, err
	}
	entry, err := h.Entry(blob, found)
	if err != nil {
		logger.Warn("ignoring invalid store entry", "post_id", postID, "error", err)
		return platform.Entry{}, nil
	}
	return entry, nil
}
