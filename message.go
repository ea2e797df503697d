package listsync

import (
	"encoding/json"
	"fmt"
)

// wire format is JSON frames tagged with `action` (client to server)
// or `action` reused as the event kind (server to client).
// both directions are closed sets: adding a variant without extending
// the type switches below is a compile error via the marker methods.

const (
	actionAddItem         = "add_item"
	actionUpdateItem      = "update_item"
	actionCheckItem       = "check_item"
	actionDeleteItem      = "delete_item"
	actionReorderItems    = "reorder_items"
	actionReorderSections = "reorder_sections"
)

const (
	kindInitial           = "initial"
	kindAdded             = "added"
	kindUpdated           = "updated"
	kindDeleted           = "deleted"
	kindSectionsReordered = "sections_reordered"
)

type ClientMessage interface {
	clientMessage()
}

type AddItemMessage struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Section  string `json:"section,omitempty"`
	Order    int    `json:"order,omitempty"`
}

// fields are pointers so that an absent field is distinguishable from a
// zero value. a single frame can carry a section change together with
// the recomputed order (see the cross-section move rules).
type UpdateItemMessage struct {
	ItemId   Id      `json:"item_id"`
	Name     *string `json:"name,omitempty"`
	Quantity *string `json:"quantity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Section  *string `json:"section,omitempty"`
	Order    *int    `json:"order,omitempty"`
}

type CheckItemMessage struct {
	ItemId  Id   `json:"item_id"`
	Checked bool `json:"checked"`
}

type DeleteItemMessage struct {
	ItemId Id `json:"item_id"`
}

type ReorderItemsMessage struct {
	SectionId Id   `json:"section_id"`
	ItemIds   []Id `json:"item_ids"`
}

type ReorderSectionsMessage struct {
	// section id string -> new order value
	Orders map[string]int `json:"orders"`
}

func (*AddItemMessage) clientMessage()         {}
func (*UpdateItemMessage) clientMessage()      {}
func (*CheckItemMessage) clientMessage()       {}
func (*DeleteItemMessage) clientMessage()      {}
func (*ReorderItemsMessage) clientMessage()    {}
func (*ReorderSectionsMessage) clientMessage() {}

func EncodeClientMessage(message ClientMessage) ([]byte, error) {
	var action string
	switch message.(type) {
	case *AddItemMessage:
		action = actionAddItem
	case *UpdateItemMessage:
		action = actionUpdateItem
	case *CheckItemMessage:
		action = actionCheckItem
	case *DeleteItemMessage:
		action = actionDeleteItem
	case *ReorderItemsMessage:
		action = actionReorderItems
	case *ReorderSectionsMessage:
		action = actionReorderSections
	default:
		return nil, fmt.Errorf("unknown client message type: %T", message)
	}
	fields, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(fields, &frame); err != nil {
		return nil, err
	}
	frame["action"], _ = json.Marshal(action)
	return json.Marshal(frame)
}

type Event interface {
	event()
}

type InitialEvent struct {
	Items []*Item `json:"items"`
}

type AddedEvent struct {
	Item *Item `json:"item"`
}

type UpdatedEvent struct {
	Item *Item `json:"item"`
}

type DeletedEvent struct {
	ItemId Id `json:"item_id"`
}

type SectionOrder struct {
	SectionId Id  `json:"id"`
	Order     int `json:"order"`
}

type SectionsReorderedEvent struct {
	Sections []SectionOrder `json:"sections"`
}

func (*InitialEvent) event()           {}
func (*AddedEvent) event()             {}
func (*UpdatedEvent) event()           {}
func (*DeletedEvent) event()           {}
func (*SectionsReorderedEvent) event() {}

// ParseEvent decodes one inbound frame.
// unknown kinds return (nil, nil) and are ignored by the caller.
// malformed frames return an error; the channel logs and drops them.
func ParseEvent(frameBytes []byte) (Event, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(frameBytes, &envelope); err != nil {
		return nil, err
	}

	var event Event
	switch envelope.Action {
	case kindInitial:
		event = &InitialEvent{}
	case kindAdded:
		event = &AddedEvent{}
	case kindUpdated:
		event = &UpdatedEvent{}
	case kindDeleted:
		event = &DeletedEvent{}
	case kindSectionsReordered:
		event = &SectionsReorderedEvent{}
	default:
		return nil, nil
	}
	if err := json.Unmarshal(frameBytes, event); err != nil {
		return nil, err
	}
	return event, nil
}
