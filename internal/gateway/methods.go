package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	"github.com/coterie-ai/coterie/internal/bus"
	"github.com/coterie-ai/coterie/internal/store"
	"github.com/coterie-ai/coterie/pkg/protocol"
)

// MethodRouter dispatches request frames to method handlers.
type MethodRouter struct {
	server   *Server
	handlers map[string]func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error)
}

func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{
		server:   s,
		handlers: make(map[string]func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error)),
	}
	r.handlers[protocol.MethodHealth] = r.handleHealth
	r.handlers[protocol.MethodChannelsCreate] = r.handleCreate
	r.handlers[protocol.MethodChannelsList] = r.handleList
	r.handlers[protocol.MethodChannelsJoin] = r.handleJoin
	r.handlers[protocol.MethodChannelsLeave] = r.handleLeave
	r.handlers[protocol.MethodChannelsInvite] = r.handleInvite
	r.handlers[protocol.MethodChannelsArchive] = r.handleArchive
	r.handlers[protocol.MethodChannelsPost] = r.handlePost
	r.handlers[protocol.MethodChannelsHistory] = r.handleHistory
	r.handlers[protocol.MethodChannelsRead] = r.handleRead
	r.handlers[protocol.MethodChannelsUnread] = r.handleUnread
	return r
}

// Dispatch routes one request frame. The connect method authenticates;
// everything else requires a prior successful connect when a gateway
// token is configured.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req *protocol.RequestFrame) *protocol.ResponseFrame {
	if req.Method == protocol.MethodConnect {
		return r.handleConnect(c, req)
	}

	if !c.authenticated {
		return protocol.NewError(req.ID, "not authenticated")
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		return protocol.NewError(req.ID, "unknown method: "+req.Method)
	}

	result, err := handler(ctx, c, req.Params)
	if err != nil {
		return protocol.NewError(req.ID, err.Error())
	}
	return protocol.NewResult(req.ID, result)
}

func (r *MethodRouter) handleConnect(c *Client, req *protocol.RequestFrame) *protocol.ResponseFrame {
	var p struct {
		Token string `json:"token"`
	}
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}

	want := r.server.cfg.Gateway.Token
	if want != "" && subtle.ConstantTimeCompare([]byte(p.Token), []byte(want)) != 1 {
		return protocol.NewError(req.ID, "invalid token")
	}
	c.authenticated = true
	return protocol.NewResult(req.ID, map[string]interface{}{"protocol": protocol.ProtocolVersion})
}

func (r *MethodRouter) handleHealth(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"status": "ok", "protocol": protocol.ProtocolVersion}, nil
}

// --- Channel methods ---

type channelParams struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Limit   int    `json:"limit"`

	Description string `json:"description"`

	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
	MemberType string `json:"member_type"`

	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

func decodeParams(params json.RawMessage) (channelParams, error) {
	var p channelParams
	if len(params) == 0 {
		return p, nil
	}
	err := json.Unmarshal(params, &p)
	return p, err
}

func (r *MethodRouter) handleCreate(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return r.server.manager.CreateChannel(ctx, p.Name, p.Description), nil
}

func (r *MethodRouter) handleList(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	return r.server.manager.ListChannels(ctx)
}

func (r *MethodRouter) handleJoin(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return r.server.manager.Join(ctx, p.Channel), nil
}

func (r *MethodRouter) handleLeave(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return r.server.manager.Leave(ctx, p.Channel), nil
}

func (r *MethodRouter) handleInvite(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return r.server.manager.Invite(ctx, p.Channel, p.MemberID, p.MemberName, p.MemberType), nil
}

func (r *MethodRouter) handleArchive(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	return r.server.manager.Archive(ctx, p.Channel), nil
}

// handlePost lands a person's message: persist with auto-join, push the
// event to connected clients, then hand off to the scheduler. The
// scheduler call is fire-and-forget: the poster gets an ack as soon as
// the message is durable.
func (r *MethodRouter) handlePost(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}

	res := r.server.manager.SendAs(ctx, p.Channel, p.Content, p.SenderID, p.SenderName)
	if !res.Success {
		return res, nil
	}

	st := r.server.manager.Store()
	ch, err := st.ResolveChannel(ctx, p.Channel)
	if err != nil || ch == nil {
		return res, nil
	}

	r.server.eventPub.Publish(bus.Event{
		Name: protocol.EventChannelMessage,
		Payload: bus.InboundPost{
			Channel:    ch.Name,
			SenderID:   p.SenderID,
			SenderName: p.SenderName,
			Content:    p.Content,
		},
	})

	members, err := st.GetMembers(ctx, ch.ID)
	if err == nil {
		go r.server.pool.TriggerResponses(context.Background(), ch.Name, p.SenderName, p.Content, members, "")
	}

	return res, nil
}

func (r *MethodRouter) handleHistory(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	st := r.server.manager.Store()
	ch, err := st.ResolveChannel(ctx, p.Channel)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return []store.ChannelMessageData{}, nil
	}
	return st.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: p.Limit})
}

func (r *MethodRouter) handleRead(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	msgs, res := r.server.manager.ReadMessages(ctx, p.Channel, p.Limit)
	return map[string]interface{}{"result": res, "messages": msgs}, nil
}

func (r *MethodRouter) handleUnread(ctx context.Context, c *Client, params json.RawMessage) (interface{}, error) {
	counts, err := r.server.manager.Store().GetUnreadCounts(ctx, r.server.manager.AssistantID())
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for id, n := range counts {
		out[id.String()] = n
	}
	return out, nil
}
