package atts

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

type testshim struct {
	bytes.Buffer
}

func (t *testshim) Close() error           { return nil }
func (t *testshim) Wait() error            { return nil }
func (t *testshim) Signal(os.Signal) error { return nil }

func TestAdvertiseEIR(t *testing.T) {
	cases := []struct {
		adv     []byte
		scan    []byte
		want    string
		wanterr bool
	}{
		{adv: []byte{0x12, 0x34}, scan: []byte{0xAB, 0xCD}, want: "1234 abcd\n"},
		{scan: []byte{0xAB, 0xCD}, want: " abcd\n"},
		{adv: []byte{0x12, 0x34}, want: "1234 \n"},
		// data too long
		{adv: bytes.Repeat([]byte{0}, 32), wanterr: true},
		{scan: bytes.Repeat([]byte{0}, 32), wanterr: true},
	}

	shim := new(testshim)
	hci := newHCI(shim)
	for _, tt := range cases {
		shim.Buffer.Reset()
		err := hci.advertiseEIR(tt.adv, tt.scan)
		if tt.wanterr {
			if err != ErrEIRPacketTooLong {
				t.Errorf("AdvertiseEIR(%x, %x) got %v want ErrEIRPacketTooLong", tt.adv, tt.scan, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("AdvertiseEIR(%x, %x) unexpected error: %v", tt.adv, tt.scan, err)
		}
		if got := shim.Buffer.String(); got != tt.want {
			t.Errorf("AdvertiseEIR(%x, %x): got %q want %q", tt.adv, tt.scan, got, tt.want)
		}
	}
}

func TestHCIEvent(t *testing.T) {
	shim := new(testshim)
	shim.WriteString("hciDeviceId 0\nadapterState poweredOn\nbogus 1\n")
	c := newHCI(shim)

	state, err := c.event()
	if err != nil || state != "poweredOn" {
		t.Errorf("event(): got %q, %v want %q", state, err, "poweredOn")
	}
	if _, err := c.event(); err == nil {
		t.Errorf("event() should fail on an unexpected event type")
	}
}

func TestStartAdvertising(t *testing.T) {
	s := NewServer(Name("gopher"), Logger(testLogger()))
	shim := new(testshim)
	s.hci = newHCI(shim)

	if err := s.AddGroup(&Group{
		Attrs: []*Attr{NewAttr(PrimaryServiceUUID, UUID16(0xfff0).Bytes(), PermitRead, 0)},
		Start: FirstFreeHandle,
		End:   FirstFreeHandle,
	}); err != nil {
		t.Fatal(err)
	}

	// AddGroup readvertises with the new service.
	if got, want := shim.String(), "0201060302f0ff 0709676f70686572\n"; got != want {
		t.Errorf("advertised %q want %q", got, want)
	}

	shim.Reset()
	s.Option(AdvertisingPacket([]byte{0x02, 0x01, 0x06}))
	if err := s.startAdvertising(); err != nil {
		t.Fatal(err)
	}
	if got := shim.String(); !strings.HasPrefix(got, "020106 ") {
		t.Errorf("custom advertising packet not used: %q", got)
	}
}
