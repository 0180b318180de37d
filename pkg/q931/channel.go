package q931

import (
	"fmt"

	"github.com/arzzra/q931/pkg/q931/ie"
)

// ChannelState состояние B-канала
type ChannelState uint8

const (
	ChannelAvailable ChannelState = iota
	ChannelInUse
	ChannelMaintenance
	ChannelLeased
)

func (s ChannelState) String() string {
	switch s {
	case ChannelAvailable:
		return "available"
	case ChannelInUse:
		return "in-use"
	case ChannelMaintenance:
		return "maintenance"
	case ChannelLeased:
		return "leased"
	}
	return fmt.Sprintf("ChannelState(%d)", uint8(s))
}

// Channel B-канал интерфейса. Номер канала считается от нуля: на BRA 0 = B1.
type Channel struct {
	ID    int
	State ChannelState
	call  *Call
}

func (ch *Channel) restartable() bool {
	return ch.State != ChannelMaintenance && ch.State != ChannelLeased
}

func (ch *Channel) bind(c *Call) {
	if ch.State != ChannelAvailable {
		contract("channel %d bound in state %s", ch.ID, ch.State)
	}
	ch.State = ChannelInUse
	ch.call = c
}

func (ch *Channel) release(maintenance bool) {
	ch.call = nil
	switch {
	case maintenance:
		ch.State = ChannelMaintenance
	case ch.State == ChannelInUse:
		ch.State = ChannelAvailable
	}
}

func newChannels(cfg InterfaceConfig) []*Channel {
	channels := make([]*Channel, cfg.Type.channelCount())
	for n := range channels {
		channels[n] = &Channel{ID: n}
	}
	for _, n := range cfg.LeasedChannels {
		channels[n].State = ChannelLeased
	}
	return channels
}

func (i *Interface) channel(n int) *Channel {
	if n < 0 || n >= len(i.channels) {
		return nil
	}
	return i.channels[n]
}

// channelSet каналы в состоянии, удовлетворяющем предикату
func (i *Interface) channelSet(pred func(*Channel) bool) ie.ChannelSet {
	var set ie.ChannelSet
	for _, ch := range i.channels {
		if pred(ch) {
			set = set.Add(ch.ID)
		}
	}
	return set
}

func (i *Interface) restartableChannels() ie.ChannelSet {
	return i.channelSet((*Channel).restartable)
}

func (i *Interface) firstAvailable() *Channel {
	for _, ch := range i.channels {
		if ch.State == ChannelAvailable {
			return ch
		}
	}
	return nil
}

// selectChannel выбирает B-канал по элементу Channel identification.
// При ci == nil или "любой канал" берется первый свободный. Возвращает
// (nil, 0), если элемент явно указывает "нет канала".
func (i *Interface) selectChannel(ci *ie.ChannelIdentification, preferred int) (*Channel, ie.CauseValue) {
	if ci == nil {
		if ch := i.channel(preferred); ch != nil && ch.State == ChannelAvailable {
			return ch, 0
		}
		if ch := i.firstAvailable(); ch != nil {
			return ch, 0
		}
		return nil, ie.CauseNoCircuitChannelAvailable
	}

	set, anyChannel := ci.Channels()
	if ci.Selection == ie.SelectionNone {
		return nil, 0
	}
	if anyChannel || set.Empty() {
		return i.selectChannel(nil, preferred)
	}

	known := false
	for _, n := range set.Slice() {
		ch := i.channel(n)
		if ch == nil {
			continue
		}
		known = true
		if ch.State == ChannelAvailable {
			return ch, 0
		}
	}

	switch {
	case ci.Exclusive && !known:
		return nil, ie.CauseIdentifiedChannelDoesNotExist
	case ci.Exclusive:
		return nil, ie.CauseRequestedChannelNotAvailable
	}
	return i.selectChannel(nil, preferred)
}

// channelIdentification элемент для указания канала вызова
func (i *Interface) channelIdentification(ch *Channel, exclusive bool) *ie.ChannelIdentification {
	var set ie.ChannelSet
	if ch != nil {
		set = set.Add(ch.ID)
	}
	return ie.NewChannelIdentification(i.cfg.Type.ieType(), exclusive, set)
}
