package listsync

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

/*
Client-side state for one shared, sectioned shopping list with properties:
- local edits apply immediately and are sent to the server fire-and-forget
- every inbound server event reconciles into the same local state
- relative item order within a section survives inserts, moves and drags
- the derived per-section grouping is recomputed after every change,
  never mutated directly
*/

// reserved display group for items with no section reference.
// always present, always sorts after all named sections, never reorderable.
const UnsectionedName = "Unsectioned"

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// one entry on the list.
// `ItemId` is zero for an optimistic local add that the server has not
// acknowledged yet. `Section` is the owning section name, or empty for
// unsectioned. `Order` is 1-based and advisory: gaps are tolerated, only
// relative order within a section matters.
type Item struct {
	ItemId   Id     `json:"id"`
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Checked  bool   `json:"checked"`
	Section  string `json:"section,omitempty"`
	Order    int    `json:"order,omitempty"`
}

func (self *Item) Copy() *Item {
	itemCopy := *self
	return &itemCopy
}

// a named grouping bucket, independently orderable.
// names double as the grouping key and are unique across the list.
type Section struct {
	SectionId Id     `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
}

func (self *Section) Copy() *Section {
	sectionCopy := *self
	return &sectionCopy
}
