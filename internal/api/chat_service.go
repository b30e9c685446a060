package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/console"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/unread"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Info describes the daemon for Status responses.
type Info struct {
	Profile     string
	Backend     string
	Codec       string
	RelayOrigin string
}

// ChatService implements the chat gRPC service on top of the console hub.
type ChatService struct {
	info      Info
	startedAt time.Time
	hub       *console.Hub
	roster    *roster.Resolver
	counter   *unread.Counter
	bus       *bus.Bus
}

// NewChatService creates the chat service.
func NewChatService(info Info, hub *console.Hub, r *roster.Resolver, c *unread.Counter, b *bus.Bus) *ChatService {
	return &ChatService{
		info:      info,
		startedAt: time.Now(),
		hub:       hub,
		roster:    r,
		counter:   c,
		bus:       b,
	}
}

func (s *ChatService) console(user string) (*console.Console, error) {
	c, err := s.hub.Console(user)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "user %q: %v", user, err)
	}
	return c, nil
}

func (s *ChatService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	var att *thread.Attachment
	if req.AttachmentID != "" {
		att = &thread.Attachment{ID: req.AttachmentID, Name: req.AttachmentName}
	}
	m, err := c.Send(ctx, req.To, req.Text, att)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{Message: messageFromThread(m)}, nil
}

func (s *ChatService) ListThread(ctx context.Context, req *ListThreadRequest) (*ListThreadResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	if err := requirePartner(c.Me(), req.Partner); err != nil {
		return nil, err
	}
	msgs := c.Thread(ctx, req.Partner)
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFromThread(m))
	}
	return &ListThreadResponse{Messages: out, Unread: c.Unread(ctx, req.Partner)}, nil
}

func (s *ChatService) OpenThread(ctx context.Context, req *OpenThreadRequest) (*OpenThreadResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	if err := requirePartner(c.Me(), req.Partner); err != nil {
		return nil, err
	}
	ids := c.Open(ctx, req.Partner)
	if ids == nil {
		ids = []string{}
	}
	return &OpenThreadResponse{MarkedRead: ids, Unread: c.Unread(ctx, req.Partner)}, nil
}

func (s *ChatService) CloseThread(_ context.Context, req *CloseThreadRequest) (*CloseThreadResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	c.Close()
	return &CloseThreadResponse{}, nil
}

func (s *ChatService) SetVisibility(ctx context.Context, req *SetVisibilityRequest) (*SetVisibilityResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	c.SetVisible(ctx, req.Visible)
	return &SetVisibilityResponse{}, nil
}

func (s *ChatService) Roster(ctx context.Context, req *RosterRequest) (*RosterResponse, error) {
	if req.User == "" {
		people := s.roster.Load(ctx)
		out := make([]Person, 0, len(people))
		for _, p := range people {
			out = append(out, personFromRoster(p, 0))
		}
		return &RosterResponse{People: out}, nil
	}
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	counts := c.UnreadCounts(ctx)
	partners := c.Roster(ctx)
	out := make([]Person, 0, len(partners))
	for _, p := range partners {
		out = append(out, personFromRoster(p, counts[thread.Normalize(p.Email)]))
	}
	return &RosterResponse{People: out}, nil
}

func (s *ChatService) Unread(ctx context.Context, req *UnreadRequest) (*UnreadResponse, error) {
	c, err := s.console(req.User)
	if err != nil {
		return nil, err
	}
	resp := &UnreadResponse{
		Published: s.counter.Published(ctx, c.Me()),
		Mode:      string(s.counter.Mode()),
	}
	if req.Partner != "" {
		resp.Total = c.Unread(ctx, req.Partner)
		resp.Counts = map[string]int{thread.Normalize(req.Partner): resp.Total}
		return resp, nil
	}
	resp.Counts = c.UnreadCounts(ctx)
	for _, n := range resp.Counts {
		resp.Total += n
	}
	return resp, nil
}

func (s *ChatService) ImportDirectory(ctx context.Context, req *ImportDirectoryRequest) (*ImportDirectoryResponse, error) {
	n := 0
	for _, p := range req.People {
		if strings.TrimSpace(p.Email) != "" {
			n++
		}
	}
	if n == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "directory has no entries with an email")
	}
	s.roster.WriteDirectory(ctx, req.People)
	return &ImportDirectoryResponse{Imported: n}, nil
}

func (s *ChatService) SetUsername(ctx context.Context, req *SetUsernameRequest) (*SetUsernameResponse, error) {
	if !thread.ValidID(req.Email) {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email is required")
	}
	handle := strings.TrimSpace(req.Handle)
	if handle == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "handle is required")
	}
	s.roster.SetUsername(ctx, req.Email, handle)
	username := handle
	if p, ok := s.roster.Lookup(ctx, req.Email); ok {
		username = p.Username
	}
	return &SetUsernameResponse{Username: username}, nil
}

func (s *ChatService) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{
		Profile:     s.info.Profile,
		Backend:     s.info.Backend,
		Codec:       s.info.Codec,
		UnreadMode:  string(s.counter.Mode()),
		Users:       s.hub.Users(),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		RelayOrigin: s.info.RelayOrigin,
	}, nil
}

func (s *ChatService) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[EventEnvelope]) error {
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = []string{""}
	}
	ch, unsub := s.bus.SubscribeMany(256, kinds...)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if req.User != "" && !involves(evt, req.User) {
				continue
			}
			payload, err := marshalPayload(evt.Payload)
			if err != nil {
				continue
			}
			if err := stream.Send(&EventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          s.info.Profile,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				Origin:           evt.Origin,
				PayloadVersion:   1,
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func requirePartner(me, partner string) error {
	if !thread.ValidID(partner) || thread.Same(me, partner) {
		return grpcstatus.Errorf(codes.InvalidArgument, "partner %q: %v", partner, thread.ErrInvalidParticipant)
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, thread.ErrEmptyMessage), errors.Is(err, thread.ErrInvalidParticipant):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	default:
		return grpcstatus.Errorf(codes.Internal, "%v", err)
	}
}

var _ ChatServer = (*ChatService)(nil)
