package protocol

import "time"

// MessageType enumerates the frames the server sends.
type MessageType string

const (
	TypeAuth             MessageType = "auth"
	TypeUsers            MessageType = "users"
	TypeGroups           MessageType = "groups"
	TypeBroadcastHistory MessageType = "broadcast_history"
	TypePrivateHistory   MessageType = "private_history"
	TypeGroupHistory     MessageType = "group_history"
	TypeBroadcastMsg     MessageType = "broadcast_msg"
	TypePrivateMsg       MessageType = "private_msg"
	TypeGroupMsg         MessageType = "group_msg"
	TypeTyping           MessageType = "typing"
	TypeGroupCreated     MessageType = "group_created"
	TypeClearResult      MessageType = "clear_result"
	TypeAck              MessageType = "ack"
	TypeError            MessageType = "error"
)

// Ack statuses for private messages.
const (
	AckDelivered = "delivered"
	AckOffline   = "offline"
)

// Typing states.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Auth reports the outcome of signup or login.
type Auth struct {
	Type  MessageType `json:"type"`
	OK    bool        `json:"ok"`
	User  string      `json:"user,omitempty"`
	Token string      `json:"token,omitempty"`
	Error string      `json:"error,omitempty"`
}

// AuthOK is the successful handshake reply carrying a fresh session token.
func AuthOK(user, token string) Auth {
	return Auth{Type: TypeAuth, OK: true, User: user, Token: token}
}

// AuthFailed rejects a handshake; the server closes the connection after it.
func AuthFailed(reason string) Auth {
	return Auth{Type: TypeAuth, Error: reason}
}

// Users lists every other registered user and the subset currently online.
type Users struct {
	Type   MessageType `json:"type"`
	List   []string    `json:"list"`
	Online []string    `json:"online"`
}

// NewUsers builds a users frame; nil lists encode as [].
func NewUsers(list, online []string) Users {
	if list == nil {
		list = []string{}
	}
	if online == nil {
		online = []string{}
	}
	return Users{Type: TypeUsers, List: list, Online: online}
}

// GroupInfo is one entry of a group list.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

// Groups lists the groups a user belongs to.
type Groups struct {
	Type   MessageType `json:"type"`
	Groups []GroupInfo `json:"groups"`
}

// NewGroups builds a groups frame; nil encodes as [].
func NewGroups(groups []GroupInfo) Groups {
	if groups == nil {
		groups = []GroupInfo{}
	}
	return Groups{Type: TypeGroups, Groups: groups}
}

// HistoryEntry is a stored message as returned by history queries.
type HistoryEntry struct {
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// NewHistoryEntry renders one stored message with its display line.
func NewHistoryEntry(from, content string, ts int64) HistoryEntry {
	return HistoryEntry{From: from, Content: content, Timestamp: ts, Message: FormatLine(ts, from, content)}
}

// BroadcastHistory answers get_broadcast_history.
type BroadcastHistory struct {
	Type     MessageType    `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

// PrivateHistory answers get_private_history for one peer.
type PrivateHistory struct {
	Type     MessageType    `json:"type"`
	With     string         `json:"with"`
	Messages []HistoryEntry `json:"messages"`
}

// GroupHistory answers get_group_history for one group.
type GroupHistory struct {
	Type     MessageType    `json:"type"`
	GroupID  string         `json:"groupId"`
	Messages []HistoryEntry `json:"messages"`
}

// NewBroadcastHistory wraps the visible broadcast tail.
func NewBroadcastHistory(entries []HistoryEntry) BroadcastHistory {
	return BroadcastHistory{Type: TypeBroadcastHistory, Messages: nonNil(entries)}
}

// NewPrivateHistory wraps the visible tail of the thread with peer with.
func NewPrivateHistory(with string, entries []HistoryEntry) PrivateHistory {
	return PrivateHistory{Type: TypePrivateHistory, With: with, Messages: nonNil(entries)}
}

// NewGroupHistory wraps the visible tail of a group.
func NewGroupHistory(groupID string, entries []HistoryEntry) GroupHistory {
	return GroupHistory{Type: TypeGroupHistory, GroupID: groupID, Messages: nonNil(entries)}
}

func nonNil(entries []HistoryEntry) []HistoryEntry {
	if entries == nil {
		return []HistoryEntry{}
	}
	return entries
}

// BroadcastMsg is a live message on the global channel.
type BroadcastMsg struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message"`
}

// NewBroadcastMsg builds the live frame for a stored broadcast.
func NewBroadcastMsg(from, content string, ts int64) BroadcastMsg {
	return BroadcastMsg{Type: TypeBroadcastMsg, From: from, Content: content, Timestamp: ts, Message: FormatLine(ts, from, content)}
}

// PrivateMsg is a live direct message.
type PrivateMsg struct {
	Type      MessageType `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message"`
}

// NewPrivateMsg builds the live frame for a stored private message.
func NewPrivateMsg(from, to, content string, ts int64) PrivateMsg {
	return PrivateMsg{Type: TypePrivateMsg, From: from, To: to, Content: content, Timestamp: ts, Message: FormatLine(ts, from, content)}
}

// GroupMsg is a live message to a group.
type GroupMsg struct {
	Type      MessageType `json:"type"`
	GroupID   string      `json:"groupId"`
	From      string      `json:"from"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message"`
}

// NewGroupMsg builds the live frame for a stored group message.
func NewGroupMsg(groupID, from, content string, ts int64) GroupMsg {
	return GroupMsg{Type: TypeGroupMsg, GroupID: groupID, From: from, Content: content, Timestamp: ts, Message: FormatLine(ts, from, content)}
}

// TypingState relays a peer's typing start or stop.
type TypingState struct {
	Type  MessageType `json:"type"`
	From  string      `json:"from"`
	State string      `json:"state"`
}

// NewTypingState builds a typing frame from the sender.
func NewTypingState(from, state string) TypingState {
	return TypingState{Type: TypeTyping, From: from, State: state}
}

// GroupCreated reports the outcome of create_group.
type GroupCreated struct {
	Type    MessageType `json:"type"`
	OK      bool        `json:"ok"`
	GroupID string      `json:"groupId,omitempty"`
	Name    string      `json:"name,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GroupCreatedOK confirms a new group to its creator.
func GroupCreatedOK(groupID, name string) GroupCreated {
	return GroupCreated{Type: TypeGroupCreated, OK: true, GroupID: groupID, Name: name}
}

// GroupCreateFailed reports why create_group was refused.
func GroupCreateFailed(reason string) GroupCreated {
	return GroupCreated{Type: TypeGroupCreated, Error: reason}
}

// ClearResult reports the outcome of clear_chat.
type ClearResult struct {
	Type      MessageType `json:"type"`
	OK        bool        `json:"ok"`
	Scope     string      `json:"scope,omitempty"`
	With      string      `json:"with,omitempty"`
	GroupID   string      `json:"groupId,omitempty"`
	ClearedAt int64       `json:"clearedAt,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ClearFailed reports why clear_chat was refused.
func ClearFailed(reason string) ClearResult {
	return ClearResult{Type: TypeClearResult, Error: reason}
}

// Ack confirms a private message was stored and whether the peer was online.
type Ack struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	To      string      `json:"to"`
	Message string      `json:"message"`
}

// NewAck acknowledges a stored private message, live-delivered or not.
func NewAck(to string, delivered bool) Ack {
	if delivered {
		return Ack{Type: TypeAck, Status: AckDelivered, To: to, Message: "delivered to " + to}
	}
	return Ack{Type: TypeAck, Status: AckOffline, To: to, Message: "saved, user offline"}
}

// Error reports a request the server could not honour.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewError builds an error frame.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

const displayLayout = "2006-01-02 15:04"

// FormatLine renders a message as "[yyyy-MM-dd HH:mm] sender: content" in local time.
func FormatLine(ts int64, from, content string) string {
	return "[" + time.UnixMilli(ts).Format(displayLayout) + "] " + from + ": " + content
}
