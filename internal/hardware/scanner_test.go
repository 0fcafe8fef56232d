package hardware

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bridgeplate/internal/errors"
)

func TestScanMarksRespondingAddresses(t *testing.T) {
	port := NewMockPort(map[Namespace][]int{NamespaceRelay: {0, 3}})
	port.SetSilent(true)
	// 应答其他地址等同于不在位
	port.SetReply("RELAY.getADDR(5)", "2")
	tr := NewTransport(port, TransportConfig{ReadTimeout: 5 * time.Millisecond, PollInterval: time.Millisecond})

	matrix, err := NewBusScanner(tr).Scan()
	require.NoError(t, err)
	require.Len(t, matrix.Rows, len(ScanOrder))

	row, ok := matrix.Row(NamespaceRelay)
	require.True(t, ok)
	assert.Equal(t, Slots{0, SlotAbsent, SlotAbsent, 3, SlotAbsent, SlotAbsent, SlotAbsent, SlotAbsent}, row.Slots)
	assert.Equal(t, []int{0, 3}, row.Slots.Addresses())
	assert.True(t, row.Slots.Present(3))
	assert.False(t, row.Slots.Present(5))

	for _, r := range matrix.Rows {
		if r.Namespace != NamespaceRelay {
			assert.Empty(t, r.Slots.Addresses(), r.Namespace)
		}
	}
}

func TestScanOrderAndCommands(t *testing.T) {
	port := NewMockPort(nil)
	tr := newTestTransport(port)

	matrix, err := NewBusScanner(tr).Scan()
	require.NoError(t, err)

	for i, r := range matrix.Rows {
		assert.Equal(t, ScanOrder[i], r.Namespace)
	}

	cmds := port.Commands()
	require.Len(t, cmds, len(ScanOrder)*(MaxAddress+1))
	assert.Equal(t, "ADC.getADDR(0)", cmds[0])
	assert.Equal(t, "ADC.getADDR(7)", cmds[7])
	assert.Equal(t, "CURRENT.getADDR(0)", cmds[8])
	assert.Equal(t, "THERMO.getADDR(7)", cmds[len(cmds)-1])
	for _, c := range cmds {
		assert.False(t, strings.HasPrefix(c, "BRIDGE."), c)
	}
}

func TestScanComparesFirstCharacterOnly(t *testing.T) {
	link := &fakeLink{replies: map[string]string{
		"DAQC.getADDR(1)": "1 ok",
		"DAQC.getADDR(2)": "12",
		"DAQC.getADDR(4)": " 4",
	}}

	matrix, err := NewBusScanner(link).Scan()
	require.NoError(t, err)

	row, _ := matrix.Row(NamespaceDAQC)
	assert.Equal(t, []int{1}, row.Slots.Addresses())
}

func TestScanAbortsOnTransportError(t *testing.T) {
	link := &fakeLink{err: errors.Wrap(stderrors.New("unplugged"), errors.ErrSerialPortRead)}

	matrix, err := NewBusScanner(link).Scan()
	assert.Nil(t, matrix)
	assert.True(t, errors.Is(err, errors.ErrSerialPortRead))
	assert.Len(t, link.sent, 1)
}

func TestPresenceMatrixFormat(t *testing.T) {
	port := NewMockPort(map[Namespace][]int{
		NamespaceADC:    {1},
		NamespaceRelay2: {0, 7},
	})
	tr := newTestTransport(port)

	matrix, err := NewBusScanner(tr).Scan()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, matrix.Format(&out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, len(ScanOrder))
	assert.Equal(t, fmt.Sprintf("%-14s %s", "ADCplates:", "-1------"), lines[0])
	assert.Equal(t, fmt.Sprintf("%-14s %s", "RELAYplate2s:", "0------7"), lines[6])
	assert.Equal(t, "THERMOplates:  --------", lines[7])
}

func TestSlotsJSON(t *testing.T) {
	slots := Slots{SlotAbsent, 1, SlotAbsent, SlotAbsent, SlotAbsent, SlotAbsent, SlotAbsent, 7}
	data, err := json.Marshal(slots)
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 1, null, null, null, null, null, 7]`, string(data))
}
