package frame

import "testing"

// FuzzDecoderNeverPanics ensures arbitrary byte streams never wedge or panic
// the decoder, regardless of how mangled the input is.
func FuzzDecoderNeverPanics(f *testing.F) {
	wire, _ := Encode(nil, 1, []byte("seed payload"), 0)
	f.Add(wire)
	f.Add([]byte{0x55, 0x48, 0x4D, 0x52, 0, 0, 0, 0, 0xFF, 0xFF})
	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder(0)
		d.Write(data)
		for i := 0; i < 1000; i++ {
			if _, ok := d.Next(); !ok {
				return
			}
		}
		t.Fatalf("decoder did not terminate within 1000 events for %d input bytes", len(data))
	})
}
