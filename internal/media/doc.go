// Package media fetches, identifies and resizes post attachments.
//
// Transcoder.Fit brings an image under a byte budget by re-encoding it as
// JPEG at decreasing quality, shrinking the dimensions each time the quality
// floor is reached. The loop is bounded by MaxIterations; when the budget
// cannot be met the smallest attempt is returned with Outcome BestEffort and
// callers decide whether to upload it.
//
// Videos pass through untouched. Formats other than JPEG, PNG, GIF and WebP
// are rejected with UnsupportedMediaTypeError.
//
// Set memoizes the downloads for one post so every adapter dispatching the
// same post shares one fetch per attachment.
package media
