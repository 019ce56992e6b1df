// Package domain contains core domain types for the quotation assistant.
package domain

import (
	"encoding/json"
	"time"
)

// Item is one requested material. Name identifies the item.
type Item struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
}

// StructuredContext is the authoritative state of one quotation, accumulated
// across turns from the generator's structured side-channel.
type StructuredContext struct {
	Items         []Item `json:"items"`
	Address       string `json:"address"`
	PaymentMethod string `json:"payment_method"`
}

// Patch is a partial StructuredContext. Zero-valued fields mean "absent".
type Patch struct {
	Items         []Item `json:"items,omitempty"`
	Address       string `json:"address,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p Patch) IsEmpty() bool {
	return len(p.Items) == 0 && p.Address == "" && p.PaymentMethod == ""
}

// Merge applies every non-empty field of p to c, replacing the previous value
// wholesale. Empty or absent fields never erase existing data.
func (c *StructuredContext) Merge(p Patch) *StructuredContext {
	if len(p.Items) > 0 {
		items := make([]Item, len(p.Items))
		copy(items, p.Items)
		c.Items = items
	}
	if p.Address != "" {
		c.Address = p.Address
	}
	if p.PaymentMethod != "" {
		c.PaymentMethod = p.PaymentMethod
	}
	return c
}

// Complete reports whether all required fields are known.
func (c StructuredContext) Complete() bool {
	return len(c.Items) > 0 && c.Address != "" && c.PaymentMethod != ""
}

// IsEmpty reports whether nothing has been collected yet.
func (c StructuredContext) IsEmpty() bool {
	return len(c.Items) == 0 && c.Address == "" && c.PaymentMethod == ""
}

// Clone returns a deep copy that shares no memory with c.
func (c StructuredContext) Clone() StructuredContext {
	out := c
	if c.Items != nil {
		out.Items = make([]Item, len(c.Items))
		copy(out.Items, c.Items)
	}
	return out
}

// ItemsJSON renders the item list the way it is shown to the generator.
func (c StructuredContext) ItemsJSON() string {
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Quotation is the archived record of a finished session.
type Quotation struct {
	SessionID    string            `json:"session_id"`
	ClientID     string            `json:"client_id,omitempty"`
	Context      StructuredContext `json:"context"`
	Complete     bool              `json:"complete"`
	Turns        int               `json:"turns"`
	ClosedReason string            `json:"closed_reason"`
	StartedAt    time.Time         `json:"started_at"`
	ClosedAt     time.Time         `json:"closed_at"`
}
