package realtime

import (
	"encoding/json"
	"fmt"
)

// realtime event vocabulary. names are the platform contract and must not drift.
type EventName = string

const (
	EventJoin     EventName = "join"
	EventJoined   EventName = "joined"
	EventPresence EventName = "presence"

	EventNodeMove       EventName = "node_move"
	EventNodeMoveCommit EventName = "node_move_commit"
	EventEdgeAnchor     EventName = "edge_anchor"

	EventClassCreated EventName = "class_created"
	EventClassUpdated EventName = "class_updated"
	EventClassDeleted EventName = "class_deleted"

	EventRelationCreated EventName = "relation_created"
	EventRelationUpdated EventName = "relation_updated"
	EventRelationDeleted EventName = "relation_deleted"
)

// one websocket text frame. `Data` stays raw until a typed handler decodes it.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	ProjectId Id `json:"projectId"`
}

type PresencePayload struct {
	ProjectId Id     `json:"projectId"`
	UserId    Id     `json:"userId,omitempty"`
	Cursor    *Point `json:"cursor,omitempty"`
	Selection *Id    `json:"selection,omitempty"`
}

type NodeMovePayload struct {
	ProjectId Id      `json:"projectId"`
	ClassId   Id      `json:"classId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type EdgeAnchorPayload struct {
	ProjectId    Id      `json:"projectId"`
	RelationId   Id      `json:"relationId"`
	SourceHandle *string `json:"sourceHandle,omitempty"`
	TargetHandle *string `json:"targetHandle,omitempty"`
}

// delete events carry the bare identifier
type DeletePayload struct {
	Id Id `json:"id"`
}

func ToEnvelope(event EventName, payload any) (*Envelope, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return &Envelope{
		Event: event,
		Data:  data,
	}, nil
}

func EncodeEnvelope(event EventName, payload any) ([]byte, error) {
	envelope, err := ToEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

func DecodeEnvelope(frameBytes []byte) (*Envelope, error) {
	envelope := &Envelope{}
	if err := json.Unmarshal(frameBytes, envelope); err != nil {
		return nil, err
	}
	if envelope.Event == "" {
		return nil, fmt.Errorf("frame missing event name")
	}
	return envelope, nil
}
