package bluesky

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

func (a *Adapter) SyncBio(ctx context.Context, u platform.ProfileUpdate) error {
	return a.upsertProfile(ctx, func(p map[string]any) { p["description"] = u.Bio })
}

func (a *Adapter) SyncUserName(ctx context.Context, u platform.ProfileUpdate) error {
	return a.upsertProfile(ctx, func(p map[string]any) { p["displayName"] = u.Profile.Name })
}

func (a *Adapter) SyncProfilePic(ctx context.Context, u platform.ProfileUpdate) error {
	return a.uploadProfileImage(ctx, "avatar", u.Picture)
}

func (a *Adapter) SyncBanner(ctx context.Context, u platform.ProfileUpdate) error {
	return a.uploadProfileImage(ctx, "banner", u.Banner)
}

func (a *Adapter) uploadProfileImage(ctx context.Context, field string, blob media.Blob) error {
	if blob.Size() == 0 {
		return nil
	}
	res, err := a.trans.Fit(blob, ImageBudget)
	if err != nil {
		return platform.NewError(platform.CodePermanent, ID, "prepare "+field, err)
	}
	ref, err := a.uploadBlob(ctx, res.Blob)
	if err != nil {
		return err
	}
	return a.upsertProfile(ctx, func(p map[string]any) { p[field] = ref })
}

// upsertProfile reads the profile record, applies edit and writes it back.
// A missing record starts empty.
func (a *Adapter) upsertProfile(ctx context.Context, edit func(map[string]any)) error {
	a.profileMu.Lock()
	defer a.profileMu.Unlock()

	profile := map[string]any{}
	rv, err := a.getRecord(ctx, profileCollection, "self")
	switch {
	case err == nil:
		if err := json.Unmarshal(rv.Value, &profile); err != nil || profile == nil {
			profile = map[string]any{}
		}
	case platform.IsPermanent(err):
		// RecordNotFound for an account that never set a profile.
	default:
		return err
	}
	profile["$type"] = profileCollection
	edit(profile)

	body := map[string]any{
		"repo":       a.did(),
		"collection": profileCollection,
		"rkey":       "self",
		"record":     profile,
	}
	if rv.CID != "" {
		body["swapRecord"] = rv.CID
	}
	return a.call(ctx, http.MethodPost, "com.atproto.repo.putRecord", nil, body, nil)
}
