package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Handle is a registered adapter with its capabilities resolved to typed
// interfaces.
type Handle struct {
	ID          string
	DisplayName string
	Emoji       string
	Caps        Capability

	adapter Adapter
	schema  *Schema

	Bio        BioSyncer
	UserName   UserNameSyncer
	ProfilePic ProfilePicSyncer
	Banner     BannerSyncer
	Post       PostSyncer
}

// Entry turns a raw stored blob into an Entry. Missing blobs and blobs that
// fail the platform schema both yield an empty Entry.
func (h *Handle) Entry(blob []byte, found bool) (Entry, error) {
	if !found || len(blob) == 0 {
		return Entry{}, nil
	}
	if err := h.schema.Validate(blob); err != nil {
		return Entry{}, err
	}
	return Entry{Value: append([]byte(nil), blob...)}, nil
}

// Registry holds the adapters configured for one account in registration
// order.
type Registry struct {
	handles []*Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds adapter a built by f. It fails when a declared capability
// has no implementation or the schema does not compile.
func (r *Registry) Register(f Factory, a Adapter) (*Handle, error) {
	schema, err := CompileSchema(f.Schema)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", f.ID, err)
	}

	h := &Handle{
		ID:          f.ID,
		DisplayName: f.DisplayName,
		Emoji:       f.Emoji,
		Caps:        a.Capabilities(),
		adapter:     a,
		schema:      schema,
	}

	var missing []string
	bind := func(c Capability, ok bool) {
		if h.Caps&c != 0 && !ok {
			missing = append(missing, c.String())
		}
	}
	var ok bool
	h.Bio, ok = a.(BioSyncer)
	bind(CapBio, ok)
	h.UserName, ok = a.(UserNameSyncer)
	bind(CapUserName, ok)
	h.ProfilePic, ok = a.(ProfilePicSyncer)
	bind(CapProfilePic, ok)
	h.Banner, ok = a.(BannerSyncer)
	bind(CapBanner, ok)
	h.Post, ok = a.(PostSyncer)
	bind(CapPost, ok)

	if len(missing) > 0 {
		return nil, fmt.Errorf("register %s: declared capabilities not implemented: %v", f.ID, missing)
	}

	for _, existing := range r.handles {
		if existing.ID == f.ID {
			return nil, fmt.Errorf("register %s: platform already registered", f.ID)
		}
	}

	r.handles = append(r.handles, h)
	return h, nil
}

// Handles returns every registered handle in registration order.
func (r *Registry) Handles() []*Handle {
	return append([]*Handle(nil), r.handles...)
}

// With returns the handles declaring every capability in c.
func (r *Registry) With(c Capability) []*Handle {
	var out []*Handle
	for _, h := range r.handles {
		if h.Caps.Has(c) {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int { return len(r.handles) }

// Close closes adapters that hold resources.
func (r *Registry) Close() error {
	var errs []error
	for _, h := range r.handles {
		if c, ok := h.adapter.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", h.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Build constructs every factory for slot. A factory whose credentials are
// missing or whose construction fails is logged and left out; the returned
// errors list those exclusions.
func Build(ctx context.Context, factories []Factory, slot int, lookup LookupFunc, base CreateArgs) (*Registry, []error) {
	logger := base.Log
	if logger == nil {
		logger = slog.Default()
	}

	reg := NewRegistry()
	var skipped []error
	for _, f := range factories {
		flog := logger.With("platform", f.ID, "slot", slot)

		env, err := ResolveEnv(f, slot, lookup)
		if err != nil {
			flog.Info("platform not configured", "error", err)
			skipped = append(skipped, err)
			continue
		}

		args := base
		args.Env = env
		args.Slot = slot
		args.Log = flog

		a, err := f.New(ctx, args)
		if err != nil {
			if CodeOf(err) == "" {
				err = &Error{Code: CodeAuthentication, Platform: f.ID, Message: "create adapter", Err: err}
			}
			flog.Error("platform unavailable", "error", err)
			skipped = append(skipped, err)
			continue
		}

		h, err := reg.Register(f, a)
		if err != nil {
			flog.Error("platform rejected", "error", err)
			if c, ok := a.(io.Closer); ok {
				_ = c.Close()
			}
			skipped = append(skipped, err)
			continue
		}
		flog.Info("platform ready", "capabilities", h.Caps.String())
	}
	return reg, skipped
}
