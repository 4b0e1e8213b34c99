// Package chatclient is a Go client for the relay. It keeps per-room
// message lists and the conversation list consistent with the server while
// showing the user's own sends immediately.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"collab-relay/pkg/protocol"
	"collab-relay/pkg/reconcile"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("connection closed")

// HTTPError is returned for non-2xx REST responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// JoinError reports a join_room the server refused.
type JoinError struct {
	RoomKey protocol.RoomKey
	Reason  string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join %s: %s", e.RoomKey, e.Reason)
}

type Options struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string
	Token   string
	// UserID must match the token subject; it decides which events are
	// the local user's own.
	UserID     string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	// OnTaskUpdated and OnMessagesRead receive the frames that carry no
	// list state of their own.
	OnTaskUpdated  func(protocol.TaskUpdate)
	OnMessagesRead func(protocol.ReadReceipt)
	// OnEnvelope, when set, sees every inbound frame after it has been
	// applied.
	OnEnvelope func(protocol.Envelope)
	// OnError reports background failures, such as a read cursor update.
	OnError func(error)
}

type Client struct {
	opts    Options
	baseURL *url.URL

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	err     error
	views   map[protocol.RoomKey]*RoomView
	joining map[protocol.RoomKey]chan error

	conversations *reconcile.ConversationList
	refreshes     singleflight.Group
}

func Dial(ctx context.Context, opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	c := &Client{
		opts:          opts,
		baseURL:       base,
		views:         make(map[protocol.RoomKey]*RoomView),
		joining:       make(map[protocol.RoomKey]chan error),
		conversations: reconcile.NewConversationList(opts.UserID),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) wsURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.err = nil
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Reconnect dials a fresh socket and resynchronizes every open view.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	old := c.conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	return c.Resync(ctx)
}

// Resync rejoins the open rooms and replaces all local state with a full
// fetch. Events missed while disconnected are recovered this way.
func (c *Client) Resync(ctx context.Context) error {
	c.mu.Lock()
	views := make([]*RoomView, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		if err := c.join(ctx, v.key); err != nil {
			return err
		}
		if err := v.Refresh(ctx); err != nil {
			return err
		}
		if err := c.MarkRead(ctx, v.key); err != nil {
			return err
		}
	}
	return c.RefreshConversations(ctx)
}

// Done is closed when the current socket's read loop ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) Conversations() *reconcile.ConversationList {
	return c.conversations
}

func (c *Client) RefreshConversations(ctx context.Context) error {
	var summaries []protocol.ConversationSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &summaries); err != nil {
		return err
	}

	out := make([]reconcile.Summary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, reconcile.Summary{
			RoomKey:            s.RoomKey,
			LastEventID:        s.LastEventID,
			LastMessageAt:      s.LastMessageAt,
			LastMessageContent: s.LastMessageContent,
			Unread:             s.Unread,
		})
	}
	c.conversations.Reset(out)
	return nil
}

// OpenRoom joins key and loads its history. Opening an already open room
// returns the existing view.
func (c *Client) OpenRoom(ctx context.Context, key protocol.RoomKey) (*RoomView, error) {
	c.mu.Lock()
	if v, ok := c.views[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	v := &RoomView{client: c, key: key, list: reconcile.NewMessageList(c.opts.UserID)}
	c.views[key] = v
	c.mu.Unlock()

	if err := c.join(ctx, key); err != nil {
		c.dropView(v)
		return nil, err
	}
	if err := v.Refresh(ctx); err != nil {
		c.dropView(v)
		return nil, err
	}
	c.conversations.Open(key)
	if err := c.MarkRead(ctx, key); err != nil {
		c.dropView(v)
		c.conversations.Close(key)
		return nil, err
	}
	return v, nil
}

// MarkRead moves the server-side read cursor of key to its latest message,
// so a later full refresh reports no unread for it.
func (c *Client) MarkRead(ctx context.Context, key protocol.RoomKey) error {
	return c.doJSON(ctx, http.MethodPost, "/api/rooms/read", map[string]any{"roomKey": key}, nil)
}

func (c *Client) markReadAsync(key protocol.RoomKey) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.MarkRead(ctx, key); err != nil && c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	}()
}

func (c *Client) dropView(v *RoomView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views[v.key] == v {
		delete(c.views, v.key)
	}
}

func (c *Client) join(ctx context.Context, key protocol.RoomKey) error {
	wait := make(chan error, 1)
	c.mu.Lock()
	c.joining[key] = wait
	done := c.done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.joining[key] == wait {
			delete(c.joining, key)
		}
		c.mu.Unlock()
	}()

	if err := c.write(protocol.Envelope{Type: protocol.MessageTypeJoinRoom, RoomKey: key}); err != nil {
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	var err error
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.err = err
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		var env protocol.Envelope
		if err = conn.ReadJSON(&env); err != nil {
			return
		}
		c.dispatch(env)
		c.notify(env)
	}
}

// notify runs the caller's hooks outside c.mu so they may call back into
// the client.
func (c *Client) notify(env protocol.Envelope) {
	switch {
	case env.Type == protocol.MessageTypeTaskUpdated && env.Task != nil && c.opts.OnTaskUpdated != nil:
		c.opts.OnTaskUpdated(*env.Task)
	case env.Type == protocol.MessageTypeMessagesRead && env.Read != nil && c.opts.OnMessagesRead != nil:
		c.opts.OnMessagesRead(*env.Read)
	}
	if c.opts.OnEnvelope != nil {
		c.opts.OnEnvelope(env)
	}
}

// dispatch applies env under c.mu so a view removed by Close never sees
// another event.
func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case protocol.MessageTypeNewMessage:
		if env.Event == nil {
			return
		}
		v, ok := c.views[env.Event.RoomKey]
		if !ok {
			return
		}
		// Someone else's message landed in a room on screen: it is read.
		if v.list.ApplyServerEvent(*env.Event) == reconcile.Appended && env.Event.OriginUserID != c.opts.UserID {
			c.markReadAsync(v.key)
		}

	case protocol.MessageTypeConversationUpdate, protocol.MessageTypeTeamConversationUpdate:
		if env.Conversation != nil {
			c.conversations.ApplyUpdate(*env.Conversation)
		}

	case protocol.MessageTypeRoomJoined:
		if wait, ok := c.joining[env.RoomKey]; ok {
			wait <- nil
			delete(c.joining, env.RoomKey)
		}

	case protocol.MessageTypeError:
		if env.ClientID != "" {
			if v, ok := c.views[env.RoomKey]; ok {
				v.list.Fail(env.ClientID)
			}
			return
		}
		if wait, ok := c.joining[env.RoomKey]; ok {
			wait <- &JoinError{RoomKey: env.RoomKey, Reason: env.Error}
			delete(c.joining, env.RoomKey)
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	p, rawQuery, _ := strings.Cut(path, "?")
	u := c.baseURL.JoinPath(p)
	u.RawQuery = rawQuery
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
