// Package bsky is a minimal client for the pieces of the Bluesky XRPC
// api the bots post through: session login, blob upload, feed posts
// with reply threading and link facets, and author feeds.
package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cvillebots/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/bsky")

const DefaultHost = "https://bsky.social"

type Client struct {
	http *resty.Client
	did  string
}

var instrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(output restyutil.InstrumentOutput) {
	instrumentOutput = output
}

func NewClient(host string) *Client {
	if host == "" {
		host = DefaultHost
	}
	client := resty.New()
	client.SetBaseURL(host)
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, instrumentOutput)
	return &Client{http: client}
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeError(res *resty.Response) error {
	var decoded xrpcError
	err := json.Unmarshal(res.Body(), &decoded)
	if err != nil || decoded.Error == "" {
		return fmt.Errorf("got unexpected status %d", res.StatusCode())
	}
	return fmt.Errorf("%s: %s", decoded.Error, decoded.Message)
}

type session struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
	Handle    string `json:"handle"`
}

func (c *Client) Login(ctx context.Context, identifier, password string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"identifier": identifier,
			"password":   password,
		}).
		Post("/xrpc/com.atproto.server.createSession")
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("login %q: %w", identifier, decodeError(res))
	}

	var sess session
	err = json.Unmarshal(res.Body(), &sess)
	if err != nil {
		return err
	}
	c.http.SetAuthToken(sess.AccessJwt)
	c.did = sess.Did
	return nil
}

// PostRef identifies a published post; it is what goes in the ledger
// and what replies point back at.
type PostRef struct {
	Uri string `json:"uri"`
	Cid string `json:"cid"`
}

// String encodes a ref as a single ledger-friendly value. the at-uri and
// cid never contain spaces, so a space separator round-trips.
func (r PostRef) String() string {
	return r.Uri + " " + r.Cid
}

func ParsePostRef(s string) (PostRef, bool) {
	uri, cid, ok := strings.Cut(s, " ")
	if !ok || uri == "" || cid == "" {
		return PostRef{}, false
	}
	return PostRef{Uri: uri, Cid: cid}, true
}

type ReplyRef struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type Feature struct {
	Type string `json:"$type"`
	Uri  string `json:"uri,omitempty"`
}

type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// LinkFacet marks the byte range of `uri` inside `text` as a clickable
// link. returns false when the text does not contain the uri.
func LinkFacet(text, uri string) (Facet, bool) {
	start := strings.Index(text, uri)
	if start < 0 {
		return Facet{}, false
	}
	return Facet{
		Index: ByteSlice{
			ByteStart: start,
			ByteEnd:   start + len(uri),
		},
		Features: []Feature{{
			Type: "app.bsky.richtext.facet#link",
			Uri:  uri,
		}},
	}, true
}

type Image struct {
	Data []byte
	Alt  string
}

type Post struct {
	Text   string
	Images []Image
	Reply  *ReplyRef
	Facets []Facet
}

func (c *Client) uploadBlob(ctx context.Context, data []byte) (json.RawMessage, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", http.DetectContentType(data)).
		SetBody(data).
		Post("/xrpc/com.atproto.repo.uploadBlob")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("upload blob: %w", decodeError(res))
	}

	var decoded struct {
		Blob json.RawMessage `json:"blob"`
	}
	err = json.Unmarshal(res.Body(), &decoded)
	if err != nil {
		return nil, err
	}
	return decoded.Blob, nil
}

// Publish uploads the post's images and creates the feed post record.
func (c *Client) Publish(ctx context.Context, post Post) (PostRef, error) {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      post.Text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if post.Reply != nil {
		record["reply"] = post.Reply
	}
	if len(post.Facets) > 0 {
		record["facets"] = post.Facets
	}

	if len(post.Images) > 0 {
		images := make([]map[string]any, len(post.Images))
		for i, img := range post.Images {
			blob, err := c.uploadBlob(ctx, img.Data)
			if err != nil {
				return PostRef{}, err
			}
			images[i] = map[string]any{
				"image": blob,
				"alt":   img.Alt,
			}
		}
		record["embed"] = map[string]any{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"repo":       c.did,
			"collection": "app.bsky.feed.post",
			"record":     record,
		}).
		Post("/xrpc/com.atproto.repo.createRecord")
	if err != nil {
		return PostRef{}, err
	}
	if res.IsError() {
		return PostRef{}, fmt.Errorf("create record: %w", decodeError(res))
	}

	var ref PostRef
	err = json.Unmarshal(res.Body(), &ref)
	if err != nil {
		return PostRef{}, err
	}
	return ref, nil
}

type FeedPost struct {
	Ref         PostRef
	Author      string
	Text        string
	LikeCount   int64
	RepostCount int64
	IndexedAt   time.Time
}

func (c *Client) AuthorFeed(ctx context.Context, actor string, limit int) ([]FeedPost, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"actor": actor,
			"limit": fmt.Sprintf("%d", limit),
		}).
		Get("/xrpc/app.bsky.feed.getAuthorFeed")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("author feed %q: %w", actor, decodeError(res))
	}

	var decoded struct {
		Feed []struct {
			Post struct {
				Uri    string `json:"uri"`
				Cid    string `json:"cid"`
				Author struct {
					Handle string `json:"handle"`
				} `json:"author"`
				Record struct {
					Text string `json:"text"`
				} `json:"record"`
				LikeCount   int64     `json:"likeCount"`
				RepostCount int64     `json:"repostCount"`
				IndexedAt   time.Time `json:"indexedAt"`
			} `json:"post"`
		} `json:"feed"`
	}
	err = json.Unmarshal(res.Body(), &decoded)
	if err != nil {
		return nil, err
	}

	out := make([]FeedPost, len(decoded.Feed))
	for i, item := range decoded.Feed {
		out[i] = FeedPost{
			Ref:         PostRef{Uri: item.Post.Uri, Cid: item.Post.Cid},
			Author:      item.Post.Author.Handle,
			Text:        item.Post.Record.Text,
			LikeCount:   item.Post.LikeCount,
			RepostCount: item.Post.RepostCount,
			IndexedAt:   item.Post.IndexedAt,
		}
	}
	return out, nil
}

// PostUrl renders the public web url for a post ref,
// e.g. https://bsky.app/profile/<handle>/post/<rkey>
func PostUrl(handle string, ref PostRef) string {
	parts := strings.Split(ref.Uri, "/")
	rkey := parts[len(parts)-1]
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}
