package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/profile"
)

// SyncProfile pushes the current source profile of acct to every platform
// that can take it.
//
// Picture and banner are only pushed when their content changed. Bio and
// display name are pushed every run. All capability calls across all
// platforms run concurrently; failures are logged and joined into the
// returned error without stopping the other calls.
func (e *Engine) SyncProfile(ctx context.Context, acct Account) error {
	if e.profileCaps == 0 || acct.Registry == nil {
		return nil
	}
	logger := e.logger.With("account", acct.Handle)

	var handles []*platform.Handle
	var wanted platform.Capability
	for _, h := range acct.Registry.Handles() {
		if h.Caps&e.profileCaps != 0 {
			handles = append(handles, h)
			wanted |= h.Caps & e.profileCaps
		}
	}
	if len(handles) == 0 {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.SyncProfile", trace.WithAttributes(
		attribute.String("account", acct.Handle),
		attribute.String("capabilities", wanted.String()),
	))
	defer span.End()

	prof, err := e.source.Profile(ctx, acct.Handle)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sync profile %s: %w", acct.Handle, err)
	}

	var diff profile.Diff
	if wanted&(platform.CapProfilePic|platform.CapBanner) != 0 && e.profiles != nil {
		diff, err = e.profiles.Evaluate(ctx, prof.UserID, prof.AvatarURL, prof.BannerURL)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("sync profile %s: %w", acct.Handle, err)
		}
	}

	update := platform.ProfileUpdate{Profile: prof, Bio: prof.FormattedBio()}
	if diff.PfpChanged {
		update.Picture = diff.Pfp
	}
	if diff.BannerChanged {
		update.Banner = diff.Banner
	}

	type call struct {
		platform string
		field    string
		fn       func(context.Context, platform.ProfileUpdate) error
	}
	var calls []call
	for _, h := range handles {
		if e.profileCaps.Has(platform.CapBio) && h.Bio != nil {
			calls = append(calls, call{h.ID, "bio", h.Bio.SyncBio})
		}
		if e.profileCaps.Has(platform.CapUserName) && h.UserName != nil {
			calls = append(calls, call{h.ID, "username", h.UserName.SyncUserName})
		}
		if e.profileCaps.Has(platform.CapProfilePic) && h.ProfilePic != nil && diff.PfpChanged {
			calls = append(calls, call{h.ID, "profile_pic", h.ProfilePic.SyncProfilePic})
		}
		if e.profileCaps.Has(platform.CapBanner) && h.Banner != nil && diff.BannerChanged {
			calls = append(calls, call{h.ID, "banner", h.Banner.SyncBanner})
		}
	}

	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.fn(ctx, update); err != nil {
				logger.Error("profile sync failed", "platform", c.platform, "field", c.field, "error", err)
				errs[i] = fmt.Errorf("%s %s: %w", c.platform, c.field, err)
			}
		}()
	}
	wg.Wait()

	logger.Info("profile synced", "calls", len(calls),
		"picture_changed", diff.PfpChanged, "banner_changed", diff.BannerChanged)
	return errors.Join(errs...)
}
