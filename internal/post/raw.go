package post

// Raw is a feed item as delivered by the feed bridge. Field names follow the
// bridge's JSON encoding.
type Raw struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	URLs     []string   `json:"urls"`
	Photos   []RawPhoto `json:"photos"`
	Videos   []RawVideo `json:"videos"`
	Hashtags []string   `json:"hashtags"`
	// Mentions are usernames without the leading '@'.
	Mentions          []string  `json:"mentions,omitempty"`
	QuotedStatusID    string    `json:"quotedStatusId,omitempty"`
	InReplyToStatusID string    `json:"inReplyToStatusId,omitempty"`
	Thread            []RawRef  `json:"thread,omitempty"`
	QuotedStatus      *RawRef   `json:"quotedStatus,omitempty"`
	RetweetedStatus   *RawRef   `json:"retweetedStatus,omitempty"`
	Place             *RawPlace `json:"place,omitempty"`
	// Timestamp is seconds since the Unix epoch.
	Timestamp        int64  `json:"timestamp"`
	SensitiveContent bool   `json:"sensitiveContent,omitempty"`
	UserID           string `json:"userId,omitempty"`
	Username         string `json:"username,omitempty"`
	Name             string `json:"name,omitempty"`
	PermanentURL     string `json:"permanentUrl,omitempty"`
	Likes            int    `json:"likes,omitempty"`
	Retweets         int    `json:"retweets,omitempty"`
	Replies          int    `json:"replies,omitempty"`
	Views            int    `json:"views,omitempty"`
}

// RawPhoto is a photo attachment on a Raw item.
type RawPhoto struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// RawVideo is a video attachment on a Raw item.
type RawVideo struct {
	ID      string `json:"id"`
	Preview string `json:"preview"`
	URL     string `json:"url,omitempty"`
}

// RawRef is a summary of another item: a thread member, the quoted post or
// the retweeted post.
type RawRef struct {
	ID           string `json:"id"`
	Text         string `json:"text,omitempty"`
	Username     string `json:"username,omitempty"`
	Name         string `json:"name,omitempty"`
	PermanentURL string `json:"permanentUrl,omitempty"`
}

// RawPlace is the location attached to an item.
type RawPlace struct {
	Name     string `json:"name,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// RawProfile is the profile payload delivered by the feed bridge.
type RawProfile struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Name      string   `json:"name"`
	Biography string   `json:"biography"`
	URLs      []string `json:"urls"`
	Avatar    string   `json:"avatar"`
	Banner    string   `json:"banner"`
}
