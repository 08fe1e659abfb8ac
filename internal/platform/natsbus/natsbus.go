// Package natsbus publishes mirrored posts as JSON events on a NATS subject.
//
// Each event carries a Nats-Msg-Id header equal to the source post ID, so a
// JetStream stream with a duplicate window drops republished posts.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// ID is the platform id used in the store.
const ID = "nats"

// DefaultSubject is used when NATS_SUBJECT is unset.
const DefaultSubject = "touitomamout.posts"

// StoreValue records where a post was published.
type StoreValue struct {
	Subject string `json:"subject"`
	MsgID   string `json:"msgId"`
}

// Conn is the subset of *nats.Conn the adapter needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Event is the published payload.
type Event struct {
	ID           string      `json:"id"`
	Account      string      `json:"account"`
	Text         string      `json:"text"`
	SourceText   string      `json:"sourceText,omitempty"`
	URLs         []string    `json:"urls,omitempty"`
	Hashtags     []string    `json:"hashtags,omitempty"`
	Mentions     []string    `json:"mentions,omitempty"`
	Photos       []EventItem `json:"photos,omitempty"`
	Videos       []EventItem `json:"videos,omitempty"`
	InReplyTo    string      `json:"inReplyTo,omitempty"`
	Quoted       string      `json:"quoted,omitempty"`
	Sensitive    bool        `json:"sensitive,omitempty"`
	Username     string      `json:"username,omitempty"`
	PermanentURL string      `json:"permanentUrl,omitempty"`
	Place        string      `json:"place,omitempty"`
	PostedAt     time.Time   `json:"postedAt"`
}

// EventItem is a media reference in an Event.
type EventItem struct {
	URL     string `json:"url"`
	AltText string `json:"altText,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Factory returns the NATS platform factory.
func Factory() platform.Factory {
	return platform.Factory{
		ID:          ID,
		DisplayName: "NATS",
		Emoji:       "📨",
		EnvKeys:     []string{"NATS_URL", "NATS_SUBJECT"},
		Fallback:    map[string]string{"NATS_SUBJECT": DefaultSubject},
		Schema: `
subject: string & !=""
msgId:   string & !=""
`,
		New: func(_ context.Context, args platform.CreateArgs) (platform.Adapter, error) {
			nc, err := nats.Connect(args.Env["NATS_URL"],
				nats.Name("touitomamout-"+args.Handle),
				nats.Timeout(10*time.Second),
			)
			if err != nil {
				return nil, platform.NewError(platform.CodeConfiguration, ID, "connect", err)
			}
			return New(nc, args.Env["NATS_SUBJECT"], args.Handle, args.Log), nil
		},
	}
}

// Adapter publishes to one subject.
type Adapter struct {
	conn    Conn
	subject string
	account string
	log     *slog.Logger
}

// New returns an Adapter publishing on subject through conn.
func New(conn Conn, subject, account string, log *slog.Logger) *Adapter {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{conn: conn, subject: subject, account: account, log: log}
}

func (a *Adapter) Capabilities() platform.Capability { return platform.CapPost }

// SyncPost publishes req.Post and waits for the server to acknowledge the
// flush. Trace context travels in the message headers.
func (a *Adapter) SyncPost(ctx context.Context, req platform.PostRequest) (json.RawMessage, error) {
	if req.Entry.Found() {
		return req.Entry.Value, nil
	}

	data, err := json.Marshal(NewEvent(a.account, req.Post))
	if err != nil {
		return nil, platform.NewError(platform.CodePermanent, ID, "encode event", err)
	}

	msg := &nats.Msg{Subject: a.subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, req.Post.ID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := a.conn.PublishMsg(msg); err != nil {
		return nil, platform.NewError(platform.CodeTransient, ID, "publish", err)
	}
	if err := a.conn.FlushWithContext(ctx); err != nil {
		return nil, platform.NewError(platform.CodeTransient, ID, "flush", err)
	}
	a.log.Debug("event published", "subject", a.subject, "post_id", req.Post.ID)

	return platform.Encode(StoreValue{Subject: a.subject, MsgID: req.Post.ID})
}

// Close drains the connection.
func (a *Adapter) Close() error {
	if err := a.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

// NewEvent builds the payload for rec.
func NewEvent(account string, rec post.Record) Event {
	ev := Event{
		ID:           rec.ID,
		Account:      account,
		Text:         rec.Text,
		SourceText:   rec.RawText,
		URLs:         rec.URLs(),
		Hashtags:     rec.Hashtags(),
		Mentions:     rec.Mentions(),
		InReplyTo:    rec.InReplyToID,
		Quoted:       rec.QuotedID,
		Sensitive:    rec.Sensitive,
		Username:     rec.Username,
		PermanentURL: rec.PermanentURL,
		Place:        rec.Place,
		PostedAt:     rec.Timestamp,
	}
	for _, p := range rec.Photos() {
		ev.Photos = append(ev.Photos, EventItem{URL: p.URL, AltText: p.AltText})
	}
	for _, v := range rec.Videos() {
		ev.Videos = append(ev.Videos, EventItem{URL: v.URL, Preview: v.Preview})
	}
	return ev
}
