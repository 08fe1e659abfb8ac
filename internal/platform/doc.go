// Package platform defines the contract between the sync orchestrator and
// destination adapters, and the registry that builds adapters per account.
//
// # Capabilities
//
// An adapter declares what it can do through a Capability set and implements
// the matching interface for each declared capability:
//
//	CapBio        -> BioSyncer
//	CapUserName   -> UserNameSyncer
//	CapProfilePic -> ProfilePicSyncer
//	CapBanner     -> BannerSyncer
//	CapPost       -> PostSyncer
//
// Registration rejects an adapter that declares a capability it does not
// implement. A capability left out of the set is a no-op for that platform.
//
// # Store Values
//
// SyncPost returns an opaque JSON value the orchestrator persists per
// (post, platform). Each Factory carries a CUE schema for its value; a stored
// value that no longer satisfies the schema is handed back to the adapter as
// a miss rather than an error. An adapter given a found Entry must return it
// unchanged without touching the network.
//
// # Errors
//
// Adapters report failures as *Error with a Code. Transient errors are
// retried inside the adapter by Retry; everything that escapes SyncPost is
// logged by the orchestrator against the (platform, post) pair and does not
// affect other platforms.
package platform
