// Package post defines the immutable post and profile records that flow
// through a sync pass, and the normalizer that builds them from raw feed
// items.
//
// A Record is created once per feed item by Normalize and is never mutated
// afterwards: slices handed to Normalize are copied, and accessors on Record
// return copies. Adapters may therefore share one Record across concurrent
// dispatches.
//
// # Text Formatting
//
// Feed text arrives with shortened links and HTML entities. FormatText:
//   - replaces each short link, in order, with the matching expanded URL
//   - removes short links left over (media attachments)
//   - decodes HTML entities
//   - appends expanded URLs that had no short link in the text (card-only URLs)
//   - NFC-normalizes and trims the result
package post
