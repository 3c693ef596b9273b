package flowkey

import "testing"

func TestBuildV4Reverse(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}

	fwd, rev := BuildV4(ProtoTCP, src, dst, 1000, 80)
	fwdB, revB := BuildV4(ProtoTCP, dst, src, 80, 1000)

	if fwd != revB {
		t.Fatalf("forward key of (A,B) must equal reverse key of (B,A): %v != %v", fwd, revB)
	}
	if rev != fwdB {
		t.Fatalf("reverse key of (A,B) must equal forward key of (B,A): %v != %v", rev, fwdB)
	}
}

func TestHashNeverZero(t *testing.T) {
	// Exercise a broad spread of inputs; none should ever hash to the
	// reserved "empty slot" value.
	for i := 0; i < 10000; i++ {
		k := KeyV4{byte(i), byte(i >> 8), byte(i >> 16)}
		if Hash(k[:]) == 0 {
			t.Fatalf("hash must never be zero, got zero for %v", k)
		}
	}
}

func TestBuildV6Reverse(t *testing.T) {
	src := [16]byte{0: 0x20, 1: 0x01}
	dst := [16]byte{0: 0x20, 1: 0x02}

	fwd, rev := BuildV6(ProtoUDP, src, dst, 5000, 53)
	fwdB, revB := BuildV6(ProtoUDP, dst, src, 53, 5000)

	if fwd != revB || rev != fwdB {
		t.Fatalf("v6 forward/reverse keys are not symmetric")
	}
}
