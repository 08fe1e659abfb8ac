package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetEntry returns the store blob recorded for (postID, platformID).
// found is false when no entry exists.
func (s *Store) GetEntry(ctx context.Context, postID, platformID string) (blob []byte, found bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `
		SELECT store_blob FROM sync_entries
		WHERE post_id = ? AND platform_id = ?
	`, postID, platformID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get entry %s/%s: %w", platformID, postID, err)
	}
	return []byte(raw), true, nil
}

// PutEntry records blob for (postID, platformID).
//
// Without overwrite the write uses ON CONFLICT DO NOTHING and an existing
// entry is left untouched. With overwrite the existing entry is replaced.
// inserted reports whether a row was written.
func (s *Store) PutEntry(ctx context.Context, postID, platformID string, blob []byte, overwrite bool) (inserted bool, err error) {
	if len(blob) == 0 {
		return false, fmt.Errorf("put entry %s/%s: empty blob", platformID, postID)
	}

	query := `
		INSERT INTO sync_entries (post_id, platform_id, store_blob)
		VALUES (?, ?, ?)
		ON CONFLICT(post_id, platform_id) DO NOTHING
	`
	if overwrite {
		query = `
			INSERT INTO sync_entries (post_id, platform_id, store_blob)
			VALUES (?, ?, ?)
			ON CONFLICT(post_id, platform_id) DO UPDATE SET store_blob = excluded.store_blob
		`
	}

	res, err := s.db.ExecContext(ctx, query, postID, platformID, string(blob))
	if err != nil {
		return false, fmt.Errorf("put entry %s/%s: %w", platformID, postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put entry %s/%s: %w", platformID, postID, err)
	}
	return n > 0, nil
}

// IsSynced reports whether postID has been marked synced.
func (s *Store) IsSynced(ctx context.Context, postID string) (bool, error) {
	var synced int
	err := s.db.QueryRowContext(ctx, `
		SELECT synced FROM synced_flags WHERE post_id = ?
	`, postID).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is synced %s: %w", postID, err)
	}
	return synced != 0, nil
}

// MarkSynced sets the synced flag for postID. The flag is never cleared.
func (s *Store) MarkSynced(ctx context.Context, postID, account string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synced_flags (post_id, account, synced)
		VALUES (?, ?, 1)
		ON CONFLICT(post_id) DO UPDATE SET
			synced = 1,
			account = CASE WHEN synced_flags.account = '' THEN excluded.account ELSE synced_flags.account END
	`, postID, account)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", postID, err)
	}
	return nil
}

// HasSynced reports whether any post of account has been marked synced.
func (s *Store) HasSynced(ctx context.Context, account string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM synced_flags WHERE account = ? AND synced = 1 LIMIT 1
	`, account).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has synced %s: %w", account, err)
	}
	return true, nil
}

// ProfileEntry is the cached media state of one source profile.
type ProfileEntry struct {
	UserID     string
	PfpHash    string
	PfpURL     string
	BannerHash string
	BannerURL  string
}

// GetProfile returns the cached profile row for userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (ProfileEntry, bool, error) {
	p := ProfileEntry{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT pfp_hash, pfp_url, banner_hash, banner_url
		FROM profile_cache WHERE user_id = ?
	`, userID).Scan(&p.PfpHash, &p.PfpURL, &p.BannerHash, &p.BannerURL)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileEntry{UserID: userID}, false, nil
	}
	if err != nil {
		return ProfileEntry{}, false, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return p, true, nil
}

// PutProfile replaces the cached profile row.
func (s *Store) PutProfile(ctx context.Context, p ProfileEntry) error {
	if p.UserID == "" {
		return fmt.Errorf("put profile: empty user id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_cache (user_id, pfp_hash, pfp_url, banner_hash, banner_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			pfp_hash = excluded.pfp_hash,
			pfp_url = excluded.pfp_url,
			banner_hash = excluded.banner_hash,
			banner_url = excluded.banner_url
	`, p.UserID, p.PfpHash, p.PfpURL, p.BannerHash, p.BannerURL)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.UserID, err)
	}
	return nil
}

// LoadSession returns the session blob stored under key.
func (s *Store) LoadSession(ctx context.Context, key string) ([]byte, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM sessions WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", key, err)
	}
	return []byte(raw), true, nil
}

// SaveSession stores blob under key, replacing any previous value.
func (s *Store) SaveSession(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, blob) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = unixepoch()
	`, key, string(blob))
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}
	return nil
}
