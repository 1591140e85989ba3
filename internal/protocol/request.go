package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// RequestType is the discriminator a client puts in the "type" field.
type RequestType string

const (
	RequestSignup              RequestType = "signup"
	RequestLogin               RequestType = "login"
	RequestExit                RequestType = "exit"
	RequestGetUsers            RequestType = "get_users"
	RequestGetBroadcastHistory RequestType = "get_broadcast_history"
	RequestGetPrivateHistory   RequestType = "get_private_history"
	RequestBroadcast           RequestType = "broadcast"
	RequestPrivate             RequestType = "private"
	RequestTyping              RequestType = "typing"
	RequestCreateGroup         RequestType = "create_group"
	RequestGetGroups           RequestType = "get_groups"
	RequestGetGroupHistory     RequestType = "get_group_history"
	RequestGroupMessage        RequestType = "group_message"
	RequestClearChat           RequestType = "clear_chat"
)

// ErrMissingType is returned for frames without a "type" field.
var ErrMissingType = errors.New("missing type")

// Request is one decoded client request. The set of implementations is closed.
type Request interface {
	Type() RequestType
	isRequest()
}

// Credentials carries signup and login fields.
type Credentials struct {
	User  string
	Pass  string
	Token string
}

type (
	Signup              struct{ Credentials }
	Login               struct{ Credentials }
	Exit                struct{}
	GetUsers            struct{}
	GetBroadcastHistory struct{}
	GetPrivateHistory   struct{ With string }
	Broadcast           struct{ Content string }
	Private             struct{ To, Content string }
	Typing              struct{ To, State string }
	CreateGroup         struct {
		Name    string
		Members []string
	}
	GetGroups       struct{}
	GetGroupHistory struct{ GroupID string }
	GroupMessage    struct{ GroupID, Content string }
	ClearChat       struct{ Scope, With, GroupID string }
	// Unknown is any well-formed frame whose type is not recognised.
	Unknown struct{ Name string }
)

// Type returns the wire discriminator of each request variant.
func (Signup) Type() RequestType              { return RequestSignup }
func (Login) Type() RequestType               { return RequestLogin }
func (Exit) Type() RequestType                { return RequestExit }
func (GetUsers) Type() RequestType            { return RequestGetUsers }
func (GetBroadcastHistory) Type() RequestType { return RequestGetBroadcastHistory }
func (GetPrivateHistory) Type() RequestType   { return RequestGetPrivateHistory }
func (Broadcast) Type() RequestType           { return RequestBroadcast }
func (Private) Type() RequestType             { return RequestPrivate }
func (Typing) Type() RequestType              { return RequestTyping }
func (CreateGroup) Type() RequestType         { return RequestCreateGroup }
func (GetGroups) Type() RequestType           { return RequestGetGroups }
func (GetGroupHistory) Type() RequestType     { return RequestGetGroupHistory }
func (GroupMessage) Type() RequestType        { return RequestGroupMessage }
func (ClearChat) Type() RequestType           { return RequestClearChat }
func (u Unknown) Type() RequestType           { return RequestType(u.Name) }

func (Signup) isRequest()              {}
func (Login) isRequest()               {}
func (Exit) isRequest()                {}
func (GetUsers) isRequest()            {}
func (GetBroadcastHistory) isRequest() {}
func (GetPrivateHistory) isRequest()   {}
func (Broadcast) isRequest()           {}
func (Private) isRequest()             {}
func (Typing) isRequest()              {}
func (CreateGroup) isRequest()         {}
func (GetGroups) isRequest()           {}
func (GetGroupHistory) isRequest()     {}
func (GroupMessage) isRequest()        {}
func (ClearChat) isRequest()           {}
func (Unknown) isRequest()             {}

// rawRequest is the union of every client field as it appears on the wire.
type rawRequest struct {
	Type    string   `json:"type"`
	User    string   `json:"user"`
	Pass    string   `json:"pass"`
	Token   string   `json:"token"`
	With    string   `json:"with"`
	To      string   `json:"to"`
	Content string   `json:"content"`
	State   string   `json:"state"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
	GroupID string   `json:"groupId"`
	Scope   string   `json:"scope"`
}

// ParseRequest decodes one frame into its request variant. Field values are
// returned as sent; trimming and limits are applied by the server.
func ParseRequest(frame []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, err
	}
	kind := RequestType(strings.TrimSpace(raw.Type))
	if kind == "" {
		return nil, ErrMissingType
	}

	switch kind {
	case RequestSignup:
		return Signup{Credentials{User: raw.User, Pass: raw.Pass}}, nil
	case RequestLogin:
		return Login{Credentials{User: raw.User, Pass: raw.Pass, Token: raw.Token}}, nil
	case RequestExit:
		return Exit{}, nil
	case RequestGetUsers:
		return GetUsers{}, nil
	case RequestGetBroadcastHistory:
		return GetBroadcastHistory{}, nil
	case RequestGetPrivateHistory:
		return GetPrivateHistory{With: raw.With}, nil
	case RequestBroadcast:
		return Broadcast{Content: raw.Content}, nil
	case RequestPrivate:
		return Private{To: raw.To, Content: raw.Content}, nil
	case RequestTyping:
		return Typing{To: raw.To, State: raw.State}, nil
	case RequestCreateGroup:
		return CreateGroup{Name: raw.Name, Members: raw.Members}, nil
	case RequestGetGroups:
		return GetGroups{}, nil
	case RequestGetGroupHistory:
		return GetGroupHistory{GroupID: raw.GroupID}, nil
	case RequestGroupMessage:
		return GroupMessage{GroupID: raw.GroupID, Content: raw.Content}, nil
	case RequestClearChat:
		return ClearChat{Scope: raw.Scope, With: raw.With, GroupID: raw.GroupID}, nil
	default:
		return Unknown{Name: string(kind)}, nil
	}
}
