//go:build !linux

package ble

import (
	"context"
	"strconv"
)

// HCI needs raw HCI sockets, which only Linux provides.
type HCI struct {
	id int
}

var _ Enumerator = (*HCI)(nil)

// NewHCI returns a provider whose operations all fail with ErrUnsupported.
func NewHCI(id int) *HCI {
	return &HCI{id: id}
}

func (h *HCI) Name() string {
	return "hci" + strconv.Itoa(h.id)
}

func (h *HCI) Enable() error {
	return ErrUnsupported
}

func (h *HCI) Enumerate(ctx context.Context) ([]Advertisement, error) {
	return nil, ErrUnsupported
}

func (h *HCI) Connect(ctx context.Context, address string) (Session, error) {
	return nil, ErrUnsupported
}
