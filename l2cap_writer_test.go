package atts

import (
	"bytes"
	"testing"
)

func TestL2capWriterCommit(t *testing.T) {
	cases := []struct {
		name   string
		mtu    int
		header []byte
		chunks [][]byte
		want   []byte
	}{
		{
			name:   "all fit",
			mtu:    7,
			header: []byte{attOpFindInfoResp, 0x01},
			chunks: [][]byte{{0x01, 0x00, 0x00, 0x28}},
			want:   []byte{attOpFindInfoResp, 0x01, 0x01, 0x00, 0x00, 0x28},
		},
		{
			name:   "exact fit",
			mtu:    6,
			header: []byte{attOpFindInfoResp, 0x01},
			chunks: [][]byte{{0x01, 0x00, 0x00, 0x28}},
			want:   []byte{attOpFindInfoResp, 0x01, 0x01, 0x00, 0x00, 0x28},
		},
		{
			name:   "second chunk dropped",
			mtu:    9,
			header: []byte{attOpFindInfoResp, 0x01},
			chunks: [][]byte{{0x01, 0x00, 0x00, 0x28}, {0x02, 0x00, 0x03, 0x28}},
			want:   []byte{attOpFindInfoResp, 0x01, 0x01, 0x00, 0x00, 0x28},
		},
		{
			name:   "nothing fits",
			mtu:    5,
			header: []byte{attOpReadByGroupResp},
			chunks: [][]byte{{0x01, 0x00, 0x05, 0x00, 0x00, 0x18}},
			want:   []byte{attOpReadByGroupResp},
		},
	}

	for _, tt := range cases {
		w := newL2capWriter(tt.mtu)
		for _, b := range tt.header {
			w.WriteByteFit(b)
		}
		for _, c := range tt.chunks {
			w.Chunk()
			w.WriteFit(c)
			if !w.Commit() {
				break
			}
		}
		if got := w.Bytes(); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got %x want %x", tt.name, got, tt.want)
		}
	}
}

func TestL2capWriterMisuse(t *testing.T) {
	cases := map[string]func(w *l2capWriter){
		"double chunk":         func(w *l2capWriter) { w.Chunk(); w.Chunk() },
		"commit without chunk": func(w *l2capWriter) { w.Commit() },
		"double commit":        func(w *l2capWriter) { w.Chunk(); w.Commit(); w.Commit() },
		"bytes while chunking": func(w *l2capWriter) { w.Chunk(); w.Bytes() },
	}
	for name, f := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: l2capWriter did not panic", name)
				}
			}()
			f(newL2capWriter(5))
		}()
	}
}

func TestL2capWriterCommitFitTruncates(t *testing.T) {
	w := newL2capWriter(5)
	w.WriteByteFit(attOpHandleNotify)
	w.WriteUint16Fit(0x0801)
	w.Chunk()
	w.WriteFit([]byte{1, 2, 3, 4})
	w.CommitFit()
	if want := []byte{attOpHandleNotify, 0x01, 0x08, 1, 2}; !bytes.Equal(w.Bytes(), want) {
		t.Errorf("CommitFit: got %x want %x", w.Bytes(), want)
	}
}

func BenchmarkValuePDU(b *testing.B) {
	v := make([]byte, 20)
	for i := 0; i < b.N; i++ {
		w := newL2capWriter(defaultMTU)
		w.WriteByteFit(attOpHandleNotify)
		w.WriteUint16Fit(0x0806)
		w.Chunk()
		w.WriteFit(v)
		w.CommitFit()
	}
}
