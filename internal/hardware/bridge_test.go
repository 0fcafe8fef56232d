package hardware

import (
	"bytes"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bridgeplate/internal/errors"
)

func newMockBridge(boards map[Namespace][]int) (*Bridge, *MockPort) {
	port := NewMockPort(boards)
	return NewBridge(newTestTransport(port)), port
}

func TestParseNamespace(t *testing.T) {
	ns, err := ParseNamespace("relay2")
	require.NoError(t, err)
	assert.Equal(t, NamespaceRelay2, ns)

	ns, err = ParseNamespace(" Daqc ")
	require.NoError(t, err)
	assert.Equal(t, NamespaceDAQC, ns)

	_, err = ParseNamespace("MOTOR")
	assert.True(t, errors.Is(err, errors.ErrInvalidNamespace))
}

func TestNamespaceCatalog(t *testing.T) {
	assert.Len(t, Namespaces(), 9)
	for _, ns := range ScanOrder {
		assert.True(t, ns.Addressable(), ns)
		assert.True(t, ns.HasMethod("getID"), ns)
	}
	assert.False(t, NamespaceBridge.Addressable())
	assert.NotContains(t, ScanOrder, NamespaceBridge)

	assert.True(t, NamespaceADC.HasDump("srTable"))
	assert.False(t, NamespaceADC.HasMethod("srTable"))
	assert.False(t, NamespaceRelay.HasDump("help"))

	assert.Equal(t, "ADCplates", NamespaceADC.PlateLabel())
	assert.Equal(t, "RELAYplate2s", NamespaceRelay2.PlateLabel())
}

func TestBoardCall(t *testing.T) {
	bridge, port := newMockBridge(nil)
	port.SetReply("RELAY.relaySTATE(2)", "5")

	board, err := bridge.Board(NamespaceRelay)
	require.NoError(t, err)
	assert.Equal(t, NamespaceRelay, board.Namespace())

	v, err := board.Call("relaySTATE", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Interface())

	v, err = bridge.Call(NamespaceDAQC2, "getFWrev")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Interface())

	_, err = board.Call("relayBLINK", 1)
	assert.True(t, errors.Is(err, errors.ErrUnknownMethod))

	_, err = bridge.Call(NamespaceADC, "srTable")
	assert.True(t, errors.Is(err, errors.ErrUnknownMethod))

	_, err = bridge.Call(Namespace("MOTOR"), "getID")
	assert.True(t, errors.Is(err, errors.ErrInvalidNamespace))

	assert.Equal(t, []string{"RELAY.relaySTATE(2)", "DAQC2.getFWrev()"}, port.Commands())
}

func TestBoardDump(t *testing.T) {
	bridge, _ := newMockBridge(nil)

	var out bytes.Buffer
	text, complete, err := bridge.Dump(NamespaceADC, "help", &out)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Contains(t, text, "ADC.getADC")
	assert.Contains(t, out.String(), "ADC commands:")

	_, _, err = bridge.Dump(NamespaceRelay, "help", &out)
	assert.True(t, errors.Is(err, errors.ErrUnknownMethod))

	_, _, err = bridge.Dump(NamespaceADC, "getADC", &out)
	assert.True(t, errors.Is(err, errors.ErrUnknownMethod))
}

func TestBridgeScan(t *testing.T) {
	bridge, _ := newMockBridge(map[Namespace][]int{NamespaceThermo: {2}})

	matrix, err := bridge.Scan()
	require.NoError(t, err)
	row, ok := matrix.Row(NamespaceThermo)
	require.True(t, ok)
	assert.Equal(t, []int{2}, row.Slots.Addresses())
}

// mockRecorder 基于 testify/mock 的收发记录器
type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordExchange(ex *Exchange) {
	m.Called(ex)
}

func exchangeOf(mode ExchangeMode, command string) interface{} {
	return mock.MatchedBy(func(ex *Exchange) bool {
		return ex.Mode == mode && ex.Command == command
	})
}

func TestBridgeReportsExchanges(t *testing.T) {
	bridge, _ := newMockBridge(nil)
	recorder := &mockRecorder{}
	recorder.On("RecordExchange", exchangeOf(ModeLine, "DAQC.getID()")).Once()
	recorder.On("RecordExchange", exchangeOf(ModeBlock, "DAQC.help()")).Once()
	bridge.SetRecorder(recorder)

	_, err := bridge.Call(NamespaceDAQC, "getID")
	require.NoError(t, err)
	_, complete, err := bridge.Dump(NamespaceDAQC, "help", &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, complete)

	recorder.AssertExpectations(t)
	recorder.AssertNumberOfCalls(t, "RecordExchange", 2)
}

func TestOpenMockMode(t *testing.T) {
	bridge, err := Open(BridgeConfig{
		MockMode:     true,
		MockBoards:   map[Namespace][]int{NamespaceRelay: {1}},
		ReadTimeout:  20 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer bridge.Close()

	assert.Equal(t, MockDeviceName, bridge.Port())

	v, err := bridge.Call(NamespaceRelay, "getADDR", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Interface())
}

func TestOpenDeviceNotFound(t *testing.T) {
	locator := NewPortLocator(staticPorts(PortInfo{Name: "/dev/ttyUSB0", VID: "0403", PID: "6001"}))

	bridge, err := Open(BridgeConfig{Driver: DriverBugst}, locator)
	assert.Nil(t, bridge)
	assert.True(t, errors.Is(err, errors.ErrDeviceNotFound))

	locator = NewPortLocator(func() ([]PortInfo, error) { return nil, stderrors.New("no sysfs") })
	bridge, err = Open(BridgeConfig{}, locator)
	assert.Nil(t, bridge)
	assert.True(t, errors.Is(err, errors.ErrDeviceNotFound))
}

func TestOpenPortUnsupportedDriver(t *testing.T) {
	_, err := OpenPort(PortConfig{Name: "/dev/null", Driver: "ftdi"})
	assert.True(t, errors.Is(err, errors.ErrUnsupportedDrive))
}

func TestParseMockBoards(t *testing.T) {
	boards, err := ParseMockBoards(map[string][]int{"relay": {3, 0}, "adc": {1}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, boards[NamespaceRelay])
	assert.Equal(t, []int{1}, boards[NamespaceADC])

	_, err = ParseMockBoards(map[string][]int{"relay": {8}})
	assert.True(t, errors.Is(err, errors.ErrInvalidAddress))

	_, err = ParseMockBoards(map[string][]int{"servo": {0}})
	assert.True(t, errors.Is(err, errors.ErrInvalidNamespace))
}
