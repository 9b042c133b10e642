package atts

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type testL2CShim struct {
	readc  chan []byte
	writec chan []byte
	done   chan struct{}
	once   sync.Once
}

func newTestL2CShim() *testL2CShim {
	return &testL2CShim{
		readc:  make(chan []byte),
		writec: make(chan []byte),
		done:   make(chan struct{}),
	}
}

func (t *testL2CShim) Read(b []byte) (int, error) {
	select {
	case r := <-t.readc:
		if len(r) > len(b) {
			return 0, io.ErrShortBuffer
		}
		return copy(b, r), nil
	case <-t.done:
		return 0, io.EOF
	}
}

func (t *testL2CShim) Write(b []byte) (int, error) {
	select {
	case t.writec <- append([]byte(nil), b...):
		return len(b), nil
	case <-t.done:
		return 0, io.ErrClosedPipe
	}
}

func (t *testL2CShim) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *testL2CShim) Wait() error            { return nil }
func (t *testL2CShim) Signal(os.Signal) error { return nil }

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestServing(t *testing.T) {
	var (
		mu      sync.Mutex
		wrote   []byte
		changed []uint16
	)
	srv := NewServer(
		Name("gopher"),
		Logger(testLogger()),
		CCCChange(func(c Conn, h uint16, v uint16) {
			mu.Lock()
			changed = append(changed, h, v)
			mu.Unlock()
		}),
	)

	// Handles:
	//   0x10 service 0xfff0
	//   0x11 characteristic, 0x12 value 0xfff1 (read callback)
	//   0x13 characteristic, 0x14 value 0xfff2 (write callback)
	//   0x15 characteristic, 0x16 value 0xfff3 (notify)
	//   0x17 client characteristic configuration
	g := &Group{
		Attrs: []*Attr{
			NewAttr(PrimaryServiceUUID, UUID16(0xfff0).Bytes(), PermitRead, 0),
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharRead, 0x12, UUID16(0xfff1)), PermitRead, 0),
			{UUID: UUID16(0xfff1), MaxLen: 20, Permissions: PermitRead, Settings: SetVariableLen | SetReadCback},
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharWrite|CharWriteNR, 0x14, UUID16(0xfff2)), PermitRead, 0),
			{UUID: UUID16(0xfff2), MaxLen: 20, Permissions: PermitWrite, Settings: SetVariableLen | SetWriteCback},
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharNotify|CharRead, 0x16, UUID16(0xfff3)), PermitRead, 0),
			{UUID: UUID16(0xfff3), MaxLen: 20, Permissions: PermitRead, Settings: SetVariableLen},
			NewAttr(ClientCharacteristicConfigUUID, make([]byte, 2), PermitRead|PermitWrite, SetCCC),
		},
		ReadHandler: ReadHandlerFunc(func(resp ReadResponseWriter, req *ReadRequest) {
			io.WriteString(resp, "count: 1")
		}),
		WriteHandler: WriteHandlerFunc(func(r Request, data []byte) byte {
			mu.Lock()
			wrote = data
			mu.Unlock()
			return StatusSuccess
		}),
		Start: 0x10,
		End:   0x17,
	}
	if err := srv.AddGroup(g); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	shim := newTestL2CShim()
	l2c := newL2cap(shim, srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l2c.serve(ctx)

	shim.readc <- []byte("accept 11:22:33:44:55:66\n")

	rxtx := []struct {
		name   string
		before func()
		send   string
		want   string // empty if no response is expected
		after  func()
	}{
		{
			name: "set mtu to 135 -- mtu is 135",
			send: "028700",
			want: "038700",
		},
		{
			name: "set mtu to 23 -- mtu is 23", // keep later req/resp small!
			send: "021700",
			want: "031700",
		},
		{
			name: "read multiple -- unsupported",
			send: "0e01000200",
			want: "010e000006",
		},
		{
			name: "unknown command -- ignored",
			send: "7f1234",
		},
		{
			name: "truncated read -- invalid pdu",
			send: "0a01",
			want: "010a000004",
		},
		{
			name: "find info [1,10] -- 1: 0x2800, 2: 0x2803, 3: 0x2a00, 4: 0x2803, 5: 0x2a01",
			send: "0401000A00",
			want: "050101000028020003280300002a040003280500012a",
		},
		{
			name: "find info [1,2] -- 1: 0x2800, 2: 0x2803",
			send: "0401000200",
			want: "05010100002802000328",
		},
		{
			name: "find info [10,15] -- unassigned",
			send: "040a000f00",
			want: "01040a000a",
		},
		{
			name: "find info [2,1] -- invalid handle",
			send: "0402000100",
			want: "0104020001",
		},
		{
			name: "find by type [1,ffff] svc uuid -- handle range [16,23]",
			send: "060100ffff0028f0ff",
			want: "0710001700",
		},
		{
			name: "read by group [1,3] svc uuid -- unsupported group type at handle 1",
			send: "10010003001bc5d5a502000499e31111c1c095fc09",
			want: "0110010010",
		},
		{
			name: "read by group [1,3] 0x2800 -- group at [1,5]: 0x1800",
			send: "10010003000028",
			want: "1106010005000018",
		},
		{
			name: "read by group [1,14] 0x2800 -- group at [1,5]: 0x1800, [6,9]: 0x1801",
			send: "1001000E000028",
			want: "1106010005000018060009000118",
		},
		{
			name: "read by type [1,5] 0x2a00 (device name) -- found 3",
			send: "0801000500002a",
			want: "09080300676f70686572",
		},
		{
			name: "read by type [4,5] 0x2a00 (device name) -- not found",
			send: "0804000500002a",
			want: "010804000a",
		},
		{
			name: "read by type [6,6] 0x2803 (attr char) -- not found",
			send: "08060006000328",
			want: "010806000a",
		},
		{
			name: "read char -- 'count: 1'",
			send: "0a1200",
			want: "0b636f756e743a2031",
		},
		{
			name: "read blob at 6 -- ' 1'",
			send: "0c12000600",
			want: "0d2031",
		},
		{
			name: "read blob at 9 -- invalid offset",
			send: "0c12000900",
			want: "010c120007",
		},
		{
			name: "read write-only value -- read not permitted",
			send: "0a1400",
			want: "010a140002",
		},
		{
			name: "read unassigned handle -- invalid handle",
			send: "0a0c00",
			want: "010a0c0001",
		},
		{
			name: "write char 'abcdef' -- ok",
			send: "121400616263646566",
			want: "13",
			after: func() {
				mu.Lock()
				defer mu.Unlock()
				if string(wrote) != "abcdef" {
					t.Errorf("wrote: got %q want %q", wrote, "abcdef")
				}
			},
		},
		{
			name: "write read-only char -- write not permitted",
			send: "12120061",
			want: "0112120003",
		},
		{
			name: "write 21 bytes -- invalid attribute value length",
			send: "121400" + "000102030405060708090a0b0c0d0e0f1011121314",
			want: "011214000d",
		},
		{
			name: "write command 'xy' -- no response",
			send: "5214007879",
		},
		{
			name: "write command landed",
			send: "0a1200",
			want: "0b636f756e743a2031",
			after: func() {
				mu.Lock()
				defer mu.Unlock()
				if string(wrote) != "xy" {
					t.Errorf("wrote: got %q want %q", wrote, "xy")
				}
			},
		},
		{
			name: "write ccc 3 bytes -- invalid attribute value length",
			send: "121700010000",
			want: "011217000d",
		},
		{
			name: "enable indications on notify-only char -- improperly configured",
			send: "1217000200",
			want: "01121700fd",
		},
		{
			name: "start notify -- ok",
			send: "1217000100",
			want: "13",
			after: func() {
				mu.Lock()
				defer mu.Unlock()
				if len(changed) != 2 || changed[0] != 0x16 || changed[1] != CCCNotify {
					t.Errorf("ccc change: got %v want [22 1]", changed)
				}
			},
		},
		{
			name: "read ccc -- 0x0001",
			send: "0a1700",
			want: "0b0100",
		},
		{
			name:   "-- notified 'Count: 0'",
			before: func() { go srv.Notify(0x16, []byte("Count: 0")) },
			want:   "1b1600436f756e743a2030",
		},
		{
			name: "read notified value -- 'Count: 0'",
			send: "0a1600",
			want: "0b436f756e743a2030",
		},
		{
			name: "enable service changed indications -- ok",
			send: "1209000200",
			want: "13",
		},
		{
			name: "-- service changed [0x20,0x20]",
			before: func() {
				go srv.AddGroup(&Group{
					Attrs: []*Attr{NewAttr(PrimaryServiceUUID, UUID16(0xfff9).Bytes(), PermitRead, 0)},
					Start: 0x20,
					End:   0x20,
				})
			},
			want: "1d080020002000",
		},
		{
			name: "confirm indication",
			send: "1e",
		},
		{
			name: "stop notify -- ok",
			send: "1217000000",
			want: "13",
		},
	}

	for _, tt := range rxtx {
		if tt.before != nil {
			tt.before()
		}
		if tt.send != "" {
			shim.readc <- []byte("data " + tt.send + "\n")
		}
		if tt.want == "" {
			continue
		}
		resp := <-shim.writec
		if resp[len(resp)-1] != '\n' {
			t.Errorf("%s: sent %q, response %q does not end in \\n", tt.name, tt.send, resp)
			continue
		}
		got := string(resp[:len(resp)-1]) // trim \n
		if got != tt.want {
			t.Errorf("%s: sent %q got %q want %q", tt.name, tt.send, got, tt.want)
			continue
		}
		if tt.after != nil {
			tt.after()
		}
	}
}
