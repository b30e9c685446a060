package api

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/thread"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalPayload encodes an event payload as a protobuf Struct.
func marshalPayload(payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if m, ok := decoded.(map[string]any); ok {
			fields = m
		} else {
			fields["value"] = decoded
		}
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

// UnmarshalPayload decodes an envelope payload back into a generic map.
func UnmarshalPayload(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}

func involves(evt bus.Event, user string) bool {
	switch p := evt.Payload.(type) {
	case thread.Message:
		return p.IsFor(user) || p.IsFrom(user)
	case bus.ReadReceipt:
		return thread.Same(p.Reader, user) || thread.Same(p.Partner, user)
	case bus.ThreadFocus:
		return thread.Same(p.User, user)
	case bus.UnreadTotal:
		return thread.Same(p.User, user)
	}
	return evt.Kind == bus.KindRosterChanged
}
