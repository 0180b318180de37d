package ie

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip разбирает содержимое элемента и проверяет, что кодирование
// возвращает исходные октеты
func roundTrip(t *testing.T, id ID, wire []byte) IE {
	t.Helper()

	e, err := Decode(id, wire)
	require.NoError(t, err, "разбор % x", wire)
	require.Equal(t, id, e.ID())

	out, err := e.Encode()
	require.NoError(t, err)
	assert.Equal(t, wire, out, "кодирование должно вернуть исходные октеты")
	return e
}

func TestRoundTripWireSamples(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		wire []byte
	}{
		{"речевая несущая A-law", IDBearerCapability, []byte{0x80, 0x90, 0xa3}},
		{"несущая без уровня 1", IDBearerCapability, []byte{0x88, 0x90}},
		{"V.110 с 5a-5d и уровнями 2/3", IDBearerCapability,
			[]byte{0x88, 0x90, 0x21, 0x4f, 0x70, 0x3b, 0xcb, 0xc2, 0xe2}},
		{"V.120", IDBearerCapability, []byte{0x88, 0x90, 0x28, 0x0f, 0xf0}},
		{"октеты 4a/4b", IDBearerCapability, []byte{0x88, 0x10, 0x40, 0x90}},
		{"multirate", IDBearerCapability, []byte{0x88, 0x98, 0x82}},
		{"уровень 2 с 6a", IDBearerCapability, []byte{0x88, 0x90, 0x42, 0x85}},

		{"причина 16", IDCause, []byte{0x80, 0x90}},
		{"причина с рекомендацией", IDCause, []byte{0x02, 0x80, 0xa9}},
		{"причина с диагностикой", IDCause, []byte{0x82, 0xe5, 0x05, 0x7d}},

		{"BRA B1 exclusive", IDChannelIdentification, []byte{0x89}},
		{"BRA any", IDChannelIdentification, []byte{0x83}},
		{"BRA none", IDChannelIdentification, []byte{0x80}},
		{"PRA слот 1", IDChannelIdentification, []byte{0xa9, 0x83, 0x81}},
		{"PRA список слотов", IDChannelIdentification, []byte{0xa9, 0x83, 0x01, 0x02, 0x83}},
		{"PRA карта", IDChannelIdentification, []byte{0xa9, 0x93, 0x00, 0x00, 0x00, 0x03}},
		{"идентификатор интерфейса", IDChannelIdentification, []byte{0xe9, 0x85, 0x83, 0x81}},

		{"call identity", IDCallIdentity, []byte{0x01, 0x02, 0x03}},
		{"call state REST1", IDCallState, []byte{0x3d}},
		{"progress", IDProgressIndicator, []byte{0x82, 0x88}},
		{"notification", IDNotificationIndicator, []byte{0x80}},
		{"display", IDDisplay, []byte("Hello")},
		{"date/time", IDDateTime, []byte{26, 10, 15, 12, 30}},
		{"keypad", IDKeypadFacility, []byte("*21#")},
		{"signal", IDSignal, []byte{0x01}},
		{"restart all", IDRestartIndicator, []byte{0x87}},
		{"restart indicated", IDRestartIndicator, []byte{0x80}},
		{"HLC telephony", IDHighLayerCompatibility, []byte{0x91, 0x81}},
		{"HLC с 4a", IDHighLayerCompatibility, []byte{0x91, 0x5e, 0x81}},
		{"user-user", IDUserUser, []byte{0x04, 'h', 'i'}},
		{"неизвестный элемент", ID(0x1c), []byte{0x91, 0xa1, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.id, tt.wire)
		})
	}
}

func TestPartyNumberFullDomain(t *testing.T) {
	for ton := 0; ton < 8; ton++ {
		for npi := 0; npi < 16; npi++ {
			wire := append([]byte{0x80 | byte(ton)<<4 | byte(npi)}, "1234"...)
			e := roundTrip(t, IDCalledPartyNumber, wire)
			called := e.(*CalledPartyNumber)
			assert.Equal(t, TypeOfNumber(ton), called.Type)
			assert.Equal(t, NumberingPlan(npi), called.Plan)
			assert.Equal(t, "1234", called.Digits)

			roundTrip(t, IDCallingPartyNumber, wire)

			for pres := 0; pres < 4; pres++ {
				for scr := 0; scr < 4; scr++ {
					wire := append([]byte{byte(ton)<<4 | byte(npi), 0x80 | byte(pres)<<5 | byte(scr)}, "5678"...)
					e := roundTrip(t, IDCallingPartyNumber, wire)
					calling := e.(*CallingPartyNumber)
					assert.True(t, calling.HasPresentation)
					assert.Equal(t, Presentation(pres), calling.Presentation)
					assert.Equal(t, Screening(scr), calling.Screening)
				}
			}
		}
	}
}

func TestBearerCapabilityFields(t *testing.T) {
	e := roundTrip(t, IDBearerCapability, []byte{0x88, 0x90, 0x21, 0x4f, 0x70, 0x3b, 0xcb, 0xc2, 0xe2})
	bc := e.(*BearerCapability)

	assert.Equal(t, TransferUnrestrictedDigital, bc.TransferCapability)
	assert.Equal(t, TransferRate64k, bc.TransferRate)
	require.NotNil(t, bc.Layer1)
	assert.Equal(t, Layer1V110, bc.Layer1.Protocol)
	require.NotNil(t, bc.Layer1.Rate)
	assert.True(t, bc.Layer1.Rate.Asynchronous)
	assert.Equal(t, uint8(0x0f), bc.Layer1.Rate.UserRate)
	require.NotNil(t, bc.Layer1.V110)
	assert.Equal(t, uint8(3), bc.Layer1.V110.IntermediateRate)
	assert.True(t, bc.Layer1.V110.NICTx)
	require.NotNil(t, bc.Layer1.Async)
	assert.Equal(t, uint8(3), bc.Layer1.Async.Parity)
	require.NotNil(t, bc.Layer1.Modem)
	assert.True(t, bc.Layer1.Modem.FullDuplex)
	assert.Equal(t, uint8(0x0b), bc.Layer1.Modem.ModemType)
	assert.Equal(t, Layer2Q921, bc.Layer2.Protocol)
	assert.Equal(t, Layer3Q931, bc.Layer3.Protocol)

	wire, err := Marshal(SpeechBearer())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x80, 0x90, 0xa3}, wire)
}

func TestChannelIdentificationChannels(t *testing.T) {
	tests := []struct {
		name       string
		wire       []byte
		expected   ChannelSet
		anyChannel bool
	}{
		{"BRA B1", []byte{0x89}, NewChannelSet(0), false},
		{"BRA B2", []byte{0x8a}, NewChannelSet(1), false},
		{"BRA any", []byte{0x83}, 0, true},
		{"PRA слот 1", []byte{0xa9, 0x83, 0x81}, NewChannelSet(0), false},
		{"PRA слот 17", []byte{0xa9, 0x83, 0x91}, NewChannelSet(15), false},
		{"PRA слоты 1,2,3", []byte{0xa9, 0x83, 0x01, 0x02, 0x83}, NewChannelSet(0, 1, 2), false},
		{"PRA карта слотов 1,2", []byte{0xa9, 0x93, 0x00, 0x00, 0x00, 0x03}, NewChannelSet(0, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode(IDChannelIdentification, tt.wire)
			require.NoError(t, err)
			set, anyChannel := e.(*ChannelIdentification).Channels()
			assert.Equal(t, tt.expected, set)
			assert.Equal(t, tt.anyChannel, anyChannel)
		})
	}
}

func TestNewChannelIdentification(t *testing.T) {
	ci := NewChannelIdentification(InterfacePrimary, true, NewChannelSet(0, 15, 29))
	wire, err := ci.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa9, 0x83, 0x01, 0x11, 0x9f}, wire)

	ci = NewChannelIdentification(InterfaceBasic, false, NewChannelSet(1))
	wire, err = ci.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82}, wire)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		id   ID
		wire []byte
	}{
		{"причина без значения", IDCause, []byte{0x80}},
		{"причина без бита расширения", IDCause, []byte{0x80, 0x10}},
		{"короткая несущая", IDBearerCapability, []byte{0x80}},
		{"несущая: лишние октеты уровня 1", IDBearerCapability, []byte{0x80, 0x90, 0x23, 0x00, 0x00, 0x00, 0x00, 0x80}},
		{"call identity длиннее 8", IDCallIdentity, make([]byte, 9)},
		{"зарезервированный класс рестарта", IDRestartIndicator, []byte{0x81}},
		{"не IA5 в номере", IDCalledPartyNumber, []byte{0x81, 0xb1}},
		{"PRA без номеров каналов", IDChannelIdentification, []byte{0xa9}},
		{"BRA с лишними октетами", IDChannelIdentification, []byte{0x89, 0x83}},
		{"call state неверной длины", IDCallState, []byte{0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.id, tt.wire)
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "ожидается *DecodeError, получено %T", err)
			assert.Equal(t, tt.id, decodeErr.ID)
			assert.Equal(t, CauseInvalidIEContents, decodeErr.Cause)
		})
	}
}

func TestMarshal(t *testing.T) {
	wire, err := Marshal(NewCause(LocationUser, CauseNormalCallClearing))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x02, 0x80, 0x90}, wire)

	wire, err = Marshal(SendingComplete{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa1}, wire)

	wire, err = Marshal(NewCalledPartyNumber("1234"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x70, 0x05, 0x81, '1', '2', '3', '4'}, wire)

	_, err = Marshal(&Display{Text: string(make([]byte, 83))})
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestChannelSet(t *testing.T) {
	s := NewChannelSet(0, 3, 5)
	assert.Equal(t, 3, s.Count())
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
	assert.False(t, s.Contains(-1))
	assert.Equal(t, []int{0, 3, 5}, s.Slice())
	assert.Equal(t, "{0,3,5}", s.String())

	o := NewChannelSet(3, 4)
	assert.Equal(t, NewChannelSet(3), s.Intersect(o))
	assert.Equal(t, NewChannelSet(0, 3, 4, 5), s.Merge(o))
	assert.Equal(t, NewChannelSet(0, 5), s.Subtract(o))
	assert.Equal(t, NewChannelSet(0, 5), s.Del(3))
	assert.True(t, s.Del(0).Del(3).Del(5).Empty())

	assert.Panics(t, func() { s.Add(MaxChannels) })
}

func TestTimeslotMapping(t *testing.T) {
	for c := 0; c < 30; c++ {
		ts := ChannelToTimeslot(c)
		assert.NotEqual(t, 16, ts, "слот 16 занят D-каналом")
		assert.Equal(t, c, TimeslotToChannel(ts), fmt.Sprintf("канал %d", c))
	}
	assert.Equal(t, -1, TimeslotToChannel(0))
	assert.Equal(t, -1, TimeslotToChannel(16))
}

func TestDump(t *testing.T) {
	assert.Equal(t, "cause: #16 normal call clearing, location 0",
		Dump(NewCause(LocationUser, CauseNormalCallClearing)))
	assert.Equal(t, "IE(0x1c)", ID(0x1c).String())
	assert.True(t, IDBearerCapability.ComprehensionRequired())
	assert.False(t, IDDisplay.ComprehensionRequired())
	assert.True(t, IDSendingComplete.IsSingleOctet())
}
