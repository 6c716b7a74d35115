package protocol

import (
	"errors"
	"strings"
	"testing"

	e "github.com/fansqz/ether-debugger/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	data, err := Encode("ready", nil)
	require.NoError(t, err)
	assert.Equal(t, "ready000000000000000000000000000null", string(data))
	assert.Equal(t, HeaderSize+len("null"), len(data))

	data, err = Encode("toggleBreakpoint", &BreakpointPayload{Path: "a.sol", Line: 10})
	require.NoError(t, err)
	assert.Equal(t, "toggleBreakpoint0000000000000000"+`{"path":"a.sol","line":10}`, string(data))
}

func TestEncodeNameTooLong(t *testing.T) {
	_, err := Encode(strings.Repeat("a", HeaderSize+1), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrEventNameTooLong))

	var protocolErr *e.ProtocolError
	assert.True(t, errors.As(err, &protocolErr))

	// 刚好32个字符是允许的
	_, err = Encode(strings.Repeat("a", HeaderSize), nil)
	assert.NoError(t, err)
}

func TestRoundTrip(t *testing.T) {
	type payload struct {
		Path string `json:"path"`
		Line int    `json:"line"`
	}
	for _, event := range Events() {
		t.Run(event.String(), func(t *testing.T) {
			data, err := EncodeEvent(event, nil)
			require.NoError(t, err)
			frame, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, event, frame.Event)
			assert.Equal(t, event.String(), frame.Name)
			assert.Nil(t, frame.Payload)

			// 负载中包含0也必须能还原
			in := payload{Path: "/tmp/100/a0.sol", Line: 1000}
			data, err = EncodeEvent(event, in)
			require.NoError(t, err)
			frame, err = Decode(string(data))
			require.NoError(t, err)
			assert.Equal(t, event, frame.Event)
			var out payload
			require.NoError(t, frame.Unmarshal(&out))
			assert.Equal(t, in, out)
		})
	}
}

func TestRoundTripScalars(t *testing.T) {
	for _, value := range []interface{}{0, "000", 10.5, true, []int{0, 0}} {
		data, err := EncodeEvent(EventGetVarList, value)
		require.NoError(t, err)
		frame, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, EventGetVarList, frame.Event)
		expected, _ := Encode("x", value)
		assert.Equal(t, string(expected[HeaderSize:]), string(frame.Payload))
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	raw := "this is a line printed by the debugger for the user"
	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventMessage, frame.Event)
	assert.Equal(t, raw, frame.Text())
	assert.Equal(t, raw, frame.Raw)

	// 补齐后的未注册名称
	data, err := Encode("notAnEvent", map[string]int{"a": 1})
	require.NoError(t, err)
	frame, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, EventMessage, frame.Event)
	assert.Equal(t, string(data), frame.Text())

	// 不足32个字符的文本不可能是一个帧
	frame, err = Decode("ready")
	require.NoError(t, err)
	assert.Equal(t, EventMessage, frame.Event)
	assert.Equal(t, "ready", frame.Text())
}

func TestDecodeNullPayload(t *testing.T) {
	for _, body := range []string{"null", "undefined", ""} {
		frame, err := Decode("stepInto000000000000000000000000" + body)
		require.NoError(t, err)
		assert.Equal(t, EventStepInto, frame.Event)
		assert.Nil(t, frame.Payload)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode("hitBreakpoint0000000000000000000{not json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrMalformedPayload))
}

func TestDecodeNotDecodable(t *testing.T) {
	_, err := Decode(42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, e.ErrNotDecodable))
}

func TestResolveEventNameKeepsTrailingZero(t *testing.T) {
	eventsByName["step0"] = EventStepInto
	defer delete(eventsByName, "step0")

	event, name, ok := resolveEventName("step0000000000000000000000000000")
	assert.True(t, ok)
	assert.Equal(t, EventStepInto, event)
	assert.Equal(t, "step0", name)

	// 名称中间的0不是填充
	_, _, ok = resolveEventName("re0dy000000000000000000000000000")
	assert.False(t, ok)
}
