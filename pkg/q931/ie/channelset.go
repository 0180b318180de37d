package ie

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxChannels наибольшее число B-каналов на интерфейсе (E1 PRA)
const MaxChannels = 31

// ChannelSet множество B-каналов интерфейса. Каналы нумеруются с нуля:
// на BRA 0 = B1, 1 = B2; на PRA номер канала отображается на тайм-слот
// функциями ChannelToTimeslot/TimeslotToChannel.
type ChannelSet uint32

// NewChannelSet создает множество из перечисленных каналов
func NewChannelSet(channels ...int) ChannelSet {
	var s ChannelSet
	for _, c := range channels {
		s = s.Add(c)
	}
	return s
}

// Add возвращает множество с добавленным каналом
func (s ChannelSet) Add(channel int) ChannelSet {
	if channel < 0 || channel >= MaxChannels {
		panic("ie: channel out of range: " + strconv.Itoa(channel))
	}
	return s | 1<<uint(channel)
}

// Del возвращает множество без указанного канала
func (s ChannelSet) Del(channel int) ChannelSet {
	if channel < 0 || channel >= MaxChannels {
		return s
	}
	return s &^ (1 << uint(channel))
}

// Contains проверяет принадлежность канала множеству
func (s ChannelSet) Contains(channel int) bool {
	if channel < 0 || channel >= MaxChannels {
		return false
	}
	return s&(1<<uint(channel)) != 0
}

func (s ChannelSet) Count() int {
	return bits.OnesCount32(uint32(s))
}

func (s ChannelSet) Empty() bool {
	return s == 0
}

// Merge объединение множеств
func (s ChannelSet) Merge(o ChannelSet) ChannelSet {
	return s | o
}

// Intersect пересечение множеств
func (s ChannelSet) Intersect(o ChannelSet) ChannelSet {
	return s & o
}

// Subtract разность множеств
func (s ChannelSet) Subtract(o ChannelSet) ChannelSet {
	return s &^ o
}

// Slice возвращает каналы по возрастанию
func (s ChannelSet) Slice() []int {
	out := make([]int, 0, s.Count())
	for v := uint32(s); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros32(v))
	}
	return out
}

func (s ChannelSet) String() string {
	parts := make([]string, 0, s.Count())
	for _, c := range s.Slice() {
		parts = append(parts, strconv.Itoa(c))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// ChannelToTimeslot номер тайм-слота E1 для канала PRA (слот 16 занят D-каналом)
func ChannelToTimeslot(channel int) int {
	if channel < 15 {
		return channel + 1
	}
	return channel + 2
}

// TimeslotToChannel обратное отображение; для слотов 0 и 16 возвращает -1
func TimeslotToChannel(ts int) int {
	switch {
	case ts <= 0 || ts == 16 || ts > 31:
		return -1
	case ts < 16:
		return ts - 1
	default:
		return ts - 2
	}
}
