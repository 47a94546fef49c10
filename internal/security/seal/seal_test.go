package seal

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, keyLen)
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := []byte(`{"keys":[],"employeeId":"emp-1"}`)
	boxed, err := s.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(boxed, "sealed:v1|") {
		t.Errorf("falta prefijo: %s", boxed)
	}
	if !IsSealed([]byte(boxed)) {
		t.Error("IsSealed debió ser true")
	}
	if IsSealed(plain) {
		t.Error("IsSealed sobre JSON plano debió ser false")
	}

	got, err := s.Open(boxed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round-trip = %s, want %s", got, plain)
	}
}

func TestSealNoncesDiffer(t *testing.T) {
	t.Parallel()

	s, _ := New(testKey())
	a, _ := s.Seal([]byte("x"))
	b, _ := s.Seal([]byte("x"))
	if a == b {
		t.Error("dos sellados del mismo plano no deben coincidir")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	t.Parallel()

	s, _ := New(testKey())
	boxed, _ := s.Seal([]byte("payload"))

	// Voltear un byte del ciphertext.
	parts := strings.SplitN(strings.TrimPrefix(boxed, "sealed:v1|"), "|", 2)
	ct, _ := base64.StdEncoding.DecodeString(parts[1])
	ct[0] ^= 0xff
	forged := "sealed:v1|" + parts[0] + "|" + base64.StdEncoding.EncodeToString(ct)

	if _, err := s.Open(forged); err == nil {
		t.Fatal("Open debió rechazar ciphertext alterado")
	}

	for _, bad := range []string{"", "sealed:v1|solo-una-parte", "sin-prefijo|a|b"} {
		if _, err := s.Open(bad); err == nil {
			t.Fatalf("Open(%q) debió fallar", bad)
		}
	}
}

func TestOpenWrongKey(t *testing.T) {
	t.Parallel()

	s1, _ := New(testKey())
	s2, _ := New(bytes.Repeat([]byte{0x24}, keyLen))

	boxed, _ := s1.Seal([]byte("payload"))
	if _, err := s2.Open(boxed); err == nil {
		t.Fatal("Open con otra clave debió fallar")
	}
}

func TestParseKeyFormats(t *testing.T) {
	t.Parallel()

	key := testKey()
	for name, enc := range map[string]string{
		"base64":     base64.StdEncoding.EncodeToString(key),
		"base64 raw": base64.RawStdEncoding.EncodeToString(key),
		"crudo":      string(key),
	} {
		got, err := ParseKey(enc)
		if err != nil {
			t.Fatalf("ParseKey(%s): %v", name, err)
		}
		if !bytes.Equal(got, key) {
			t.Errorf("ParseKey(%s) devolvió otra clave", name)
		}
	}

	if _, err := ParseKey("corta"); err == nil {
		t.Error("clave corta debió fallar")
	}
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	t.Parallel()

	if _, err := New([]byte("corta")); err == nil {
		t.Fatal("New con clave corta debió fallar")
	}
}
