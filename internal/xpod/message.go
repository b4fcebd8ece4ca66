package xpod

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Actions.
const (
	ActionPing                       = "ping"
	ActionShareInvite                = "shareinvite"
	ActionShareUninvite              = "shareuninvite"
	ActionShareReply                 = "sharereply"
	ActionListObjects                = "listobjects"
	ActionCountObjects               = "countobjects"
	ActionSyncToken                  = "synctoken"
	ActionResourceNamesSinceRevision = "resourcenamessincerevision"
)

// Message is a decoded request.
//
// This is a sealed interface - only types in this package implement it.
type Message interface {
	ActionName() string
	message()
}

// Ping checks that a pod is reachable.
type Ping struct {
	Action string `json:"action"`
}

// ShareInvite carries a new or changed invite to the sharee's pod.
type ShareInvite struct {
	Action    string `json:"action"`
	Type      int    `json:"type"`
	Owner     string `json:"owner"`
	OwnerID   string `json:"owner_id"`
	OwnerName string `json:"owner_name"`
	Sharee    string `json:"sharee"`
	ShareID   string `json:"share_id"`
	Mode      int    `json:"mode"`
	Summary   string `json:"summary"`

	// Properties are copied onto the sharee's stub collection.
	Properties map[string]string `json:"properties"`

	SupportedComponents *string `json:"supported-components,omitempty"`
}

// ShareUninvite withdraws an invite on the sharee's pod.
type ShareUninvite struct {
	Action  string `json:"action"`
	Type    int    `json:"type"`
	Owner   string `json:"owner"`
	OwnerID string `json:"owner_id"`
	Sharee  string `json:"sharee"`
	ShareID string `json:"share_id"`
}

// ShareReply carries the sharee's answer back to the owner's pod.
type ShareReply struct {
	Action  string  `json:"action"`
	Type    int     `json:"type"`
	Owner   string  `json:"owner"`
	Sharee  string  `json:"sharee"`
	ShareID string  `json:"share_id"`
	Status  int     `json:"status"`
	Summary *string `json:"summary,omitempty"`
}

// HomeChild asks the owner's pod to run a read against the shared
// collection identified by OwnerID, as seen by Sharee.
type HomeChild struct {
	Action    string            `json:"action"`
	Type      int               `json:"type"`
	Owner     string            `json:"owner"`
	OwnerID   string            `json:"owner_id"`
	Sharee    string            `json:"sharee"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

func (m *Ping) ActionName() string          { return ActionPing }
func (m *ShareInvite) ActionName() string   { return ActionShareInvite }
func (m *ShareUninvite) ActionName() string { return ActionShareUninvite }
func (m *ShareReply) ActionName() string    { return ActionShareReply }
func (m *HomeChild) ActionName() string     { return m.Action }

func (*Ping) message()          {}
func (*ShareInvite) message()   {}
func (*ShareUninvite) message() {}
func (*ShareReply) message()    {}
func (*HomeChild) message()     {}

// NewHomeChild builds a home-child request. Arguments are encoded as
// JSON.
func NewHomeChild(action string, homeType int, owner, ownerID, sharee string, args ...any) (*HomeChild, error) {
	m := &HomeChild{Action: action, Type: homeType, Owner: owner, OwnerID: ownerID, Sharee: sharee}
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("%s argument: %w", action, err)
		}
		m.Arguments = append(m.Arguments, raw)
	}
	return m, nil
}

// Int64Arg decodes argument i as an integer.
func (m *HomeChild) Int64Arg(i int) (int64, error) {
	if i >= len(m.Arguments) {
		return 0, fmt.Errorf("%s: missing argument %d", m.Action, i)
	}
	n, err := strconv.ParseInt(string(m.Arguments[i]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %w", m.Action, i, err)
	}
	return n, nil
}

func isHomeChildAction(action string) bool {
	switch action {
	case ActionListObjects, ActionCountObjects, ActionSyncToken, ActionResourceNamesSinceRevision:
		return true
	}
	return false
}

// Encode stamps the action name on m and marshals it.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case *Ping:
		m.Action = ActionPing
	case *ShareInvite:
		m.Action = ActionShareInvite
	case *ShareUninvite:
		m.Action = ActionShareUninvite
	case *ShareReply:
		m.Action = ActionShareReply
	case *HomeChild:
		if !isHomeChildAction(m.Action) {
			return nil, fmt.Errorf("unsupported action: %q", m.Action)
		}
	}
	return json.Marshal(m)
}

// Decode parses a request body. The root must be an object with an
// action key naming a supported action.
func Decode(data []byte) (Message, error) {
	var head struct {
		Action *string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("request must be a JSON object: %w", err)
	}
	if head.Action == nil {
		return nil, fmt.Errorf("request has no action")
	}

	var m Message
	switch action := *head.Action; {
	case action == ActionPing:
		m = &Ping{}
	case action == ActionShareInvite:
		m = &ShareInvite{}
	case action == ActionShareUninvite:
		m = &ShareUninvite{}
	case action == ActionShareReply:
		m = &ShareReply{}
	case isHomeChildAction(action):
		m = &HomeChild{}
	default:
		return nil, fmt.Errorf("unsupported action: %q", action)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", *head.Action, err)
	}
	return m, nil
}
