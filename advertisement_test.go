package atts

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameScanResponsePacket(t *testing.T) {
	assert.Equal(t, "0709676f70686572", hex.EncodeToString(nameScanResponsePacket("gopher")))

	long := strings.Repeat("ecg-", 10)
	p := nameScanResponsePacket(long)
	assert.Len(t, p, MaxEIRPacketLength)
	assert.Equal(t, []byte{30, adShortName}, p[:2])
	assert.Equal(t, long[:29], string(p[2:]))

	assert.Equal(t, "0109", hex.EncodeToString(nameScanResponsePacket("")))
}

func TestServiceAdvertisingPacket(t *testing.T) {
	svc := MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2001")
	other := MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b")

	cases := []struct {
		name string
		uu   []UUID
		want string
		fit  int
	}{
		{
			name: "none",
			want: "020106",
		},
		{
			name: "16-bit",
			uu:   []UUID{UUID16(0x180D), UUID16(0x180F)},
			want: "02010603020d1803020f18",
			fit:  2,
		},
		{
			name: "128-bit",
			uu:   []UUID{svc},
			want: "0201061106" + "01202ec78a0e7390e111c20860270000",
			fit:  1,
		},
		{
			name: "second 128-bit does not fit",
			uu:   []UUID{svc, other},
			want: "0201061106" + "01202ec78a0e7390e111c20860270000",
			fit:  1,
		},
		{
			name: "16-bit after 128-bit",
			uu:   []UUID{svc, other, UUID16(0x180D), UUID16(0x180F)},
			want: "0201061106" + "01202ec78a0e7390e111c20860270000" + "03020d1803020f18",
			fit:  3,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			p, fit := serviceAdvertisingPacket(tt.uu)
			assert.Equal(t, tt.want, hex.EncodeToString(p))
			assert.Len(t, fit, tt.fit)
			assert.LessOrEqual(t, len(p), MaxEIRPacketLength)
		})
	}
}
