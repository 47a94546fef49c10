package qrtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

type fakeSource struct {
	keys       []SigningKey
	employeeID string
	deviceKey  string
}

func (f *fakeSource) Snapshot() ([]SigningKey, string, string) {
	keys := make([]SigningKey, len(f.keys))
	copy(keys, f.keys)
	return keys, f.employeeID, f.deviceKey
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// hourlyKeys genera n claves consecutivas de una hora a partir de start.
func hourlyKeys(start int64, n int) []SigningKey {
	keys := make([]SigningKey, 0, n)
	for i := 0; i < n; i++ {
		from := start + int64(i)*3_600_000
		idx := i
		keys = append(keys, SigningKey{
			Key:       "secret-" + string(rune('a'+i)),
			ValidFrom: from,
			ValidTo:   from + 3_599_999,
			Timestamp: start,
			HourIndex: &idx,
		})
	}
	return keys
}

func readySource(nowMs int64) *fakeSource {
	return &fakeSource{
		keys:       hourlyKeys(nowMs-600_000, 3),
		employeeID: "emp-9102",
		deviceKey:  "dev-key-33",
	}
}

var nonceRe = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestMintRoundTripFields(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_600_000)
	src := readySource(now)
	m := NewMinter(src, WithClock(fixedClock(now)))

	tok, err := m.Mint(TimeIn)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token no es base64: %v", err)
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("token no es JSON: %v", err)
	}

	if c.Version != WireVersion {
		t.Errorf("v = %d, want %d", c.Version, WireVersion)
	}
	if c.EmployeeID != "emp-9102" || c.DeviceKey != "dev-key-33" {
		t.Errorf("identidad = %q/%q", c.EmployeeID, c.DeviceKey)
	}
	if c.Type != TimeIn {
		t.Errorf("type = %q", c.Type)
	}
	if c.Timestamp != now {
		t.Errorf("timestamp = %d, want %d", c.Timestamp, now)
	}
	if !nonceRe.MatchString(c.Nonce) {
		t.Errorf("nonce %q no es hex de 16 chars", c.Nonce)
	}
	if c.Expiry-c.Timestamp != 30_000 {
		t.Errorf("expiry-timestamp = %d, want 30000", c.Expiry-c.Timestamp)
	}

	// La firma debe reproducirse con la clave que cubre now.
	body, _ := c.signingBytes()
	want := keyedDigest(src.keys[0].Key, body)
	if c.Signature != want {
		t.Errorf("signature = %s, want %s", c.Signature, want)
	}

	// Orden canónico de campos en el JSON crudo.
	order := []string{`"v"`, `"employeeId"`, `"deviceKey"`, `"type"`, `"timestamp"`, `"nonce"`, `"expiry"`, `"signature"`}
	last := -1
	for _, field := range order {
		i := strings.Index(string(raw), field)
		if i < 0 {
			t.Fatalf("falta campo %s en %s", field, raw)
		}
		if i < last {
			t.Fatalf("campo %s fuera de orden en %s", field, raw)
		}
		last = i
	}
}

func TestMintSelectsCoveringKey(t *testing.T) {
	t.Parallel()

	start := int64(1_700_000_000_000)
	src := &fakeSource{keys: hourlyKeys(start, 12), employeeID: "e1", deviceKey: "d1"}

	// A los 10 minutos manda la primera clave; a la hora y media, la segunda.
	for _, tc := range []struct {
		name  string
		nowMs int64
		want  int
	}{
		{"primer slot", start + 600_000, 0},
		{"segundo slot", start + 5_400_000, 1},
		{"último slot", start + 11*3_600_000 + 1, 11},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMinter(src, WithClock(fixedClock(tc.nowMs)))
			tok, err := m.Mint(BreakOut)
			if err != nil {
				t.Fatalf("Mint: %v", err)
			}
			c, err := DecodeToken(tok)
			if err != nil {
				t.Fatalf("DecodeToken: %v", err)
			}
			body, _ := c.signingBytes()
			if got := keyedDigest(src.keys[tc.want].Key, body); got != c.Signature {
				t.Errorf("firma no corresponde a la clave %d", tc.want)
			}
		})
	}
}

func TestMintOverlapPicksFreshest(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_000_000)
	older := SigningKey{Key: "old", ValidFrom: now - 1_000_000, ValidTo: now + 1_000_000}
	fresher := SigningKey{Key: "new", ValidFrom: now - 500, ValidTo: now + 2_000_000}
	src := &fakeSource{keys: []SigningKey{older, fresher}, employeeID: "e1", deviceKey: "d1"}

	m := NewMinter(src, WithClock(fixedClock(now)))
	tok, err := m.Mint(TimeOut)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	c, _ := DecodeToken(tok)
	body, _ := c.signingBytes()
	if c.Signature != keyedDigest("new", body) {
		t.Errorf("con solapamiento debe ganar la clave con validFrom más reciente")
	}
}

func TestMintNoValidKey(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_000_000)
	cases := []struct {
		name string
		keys []SigningKey
	}{
		{"sin claves", nil},
		{"todas en el pasado", []SigningKey{{Key: "k", ValidFrom: now - 2000, ValidTo: now - 1000}}},
		{"todas en el futuro", []SigningKey{{Key: "k", ValidFrom: now + 1000, ValidTo: now + 2000}}},
		{"vencida por 1ms", []SigningKey{{Key: "k", ValidFrom: now - 3_600_001, ValidTo: now - 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{keys: tc.keys, employeeID: "e1", deviceKey: "d1"}
			m := NewMinter(src, WithClock(fixedClock(now)))
			if _, err := m.Mint(TimeIn); !errors.Is(err, ErrNoValidKey) {
				t.Fatalf("err = %v, want ErrNoValidKey", err)
			}
		})
	}
}

func TestMintWindowBoundaries(t *testing.T) {
	t.Parallel()

	key := SigningKey{Key: "k", ValidFrom: 1000, ValidTo: 2000}
	src := &fakeSource{keys: []SigningKey{key}, employeeID: "e1", deviceKey: "d1"}

	for _, tc := range []struct {
		name  string
		nowMs int64
		ok    bool
	}{
		{"exacto validFrom", 1000, true},
		{"exacto validTo", 2000, true},
		{"1ms antes", 999, false},
		{"1ms después", 2001, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMinter(src, WithClock(fixedClock(tc.nowMs)))
			_, err := m.Mint(TimeIn)
			if tc.ok && err != nil {
				t.Fatalf("Mint: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrNoValidKey) {
				t.Fatalf("err = %v, want ErrNoValidKey", err)
			}
		})
	}
}

func TestMintMissingIdentity(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_000_000)
	keys := hourlyKeys(now-1000, 1)

	for _, tc := range []struct {
		name     string
		employee string
		device   string
	}{
		{"sin deviceKey", "e1", ""},
		{"sin employeeId", "", "d1"},
		{"sin ambos", "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{keys: keys, employeeID: tc.employee, deviceKey: tc.device}
			m := NewMinter(src, WithClock(fixedClock(now)))
			if _, err := m.Mint(TimeIn); !errors.Is(err, ErrMissingIdentity) {
				t.Fatalf("err = %v, want ErrMissingIdentity", err)
			}
		})
	}
}

func TestMintBadAction(t *testing.T) {
	t.Parallel()

	m := NewMinter(readySource(time.Now().UnixMilli()))
	if _, err := m.Mint(Action("LUNCH_IN")); !errors.Is(err, ErrBadAction) {
		t.Fatalf("err = %v, want ErrBadAction", err)
	}
}

func TestMintNonceVariesStructureStable(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_000_000)
	src := readySource(now)
	m := NewMinter(src, WithClock(fixedClock(now)))

	tok1, err := m.Mint(TimeIn)
	if err != nil {
		t.Fatalf("Mint 1: %v", err)
	}
	tok2, err := m.Mint(TimeIn)
	if err != nil {
		t.Fatalf("Mint 2: %v", err)
	}

	c1, _ := DecodeToken(tok1)
	c2, _ := DecodeToken(tok2)
	if c1.Nonce == c2.Nonce {
		t.Errorf("nonces repetidos: %s", c1.Nonce)
	}
	c1.Nonce, c2.Nonce = "", ""
	c1.Signature, c2.Signature = "", ""
	if *c1 != *c2 {
		t.Errorf("misma entrada debe producir misma estructura: %+v vs %+v", c1, c2)
	}
}

func TestMintExpiryExact(t *testing.T) {
	t.Parallel()

	for _, nowMs := range []int64{1, 1_700_000_000_000, 9_999_999_999_999} {
		src := &fakeSource{
			keys:       []SigningKey{{Key: "k", ValidFrom: nowMs, ValidTo: nowMs}},
			employeeID: "e1",
			deviceKey:  "d1",
		}
		m := NewMinter(src, WithClock(fixedClock(nowMs)))
		tok, err := m.Mint(BreakIn)
		if err != nil {
			t.Fatalf("Mint(now=%d): %v", nowMs, err)
		}
		c, _ := DecodeToken(tok)
		if c.Expiry != nowMs+30_000 {
			t.Errorf("expiry = %d, want %d", c.Expiry, nowMs+30_000)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("rng roto") }

func TestMintRandFailure(t *testing.T) {
	t.Parallel()

	const now = int64(1_700_000_000_000)
	src := readySource(now)
	before := len(src.keys)

	m := NewMinter(src, WithClock(fixedClock(now)), WithRand(failingReader{}))
	if _, err := m.Mint(TimeIn); err == nil {
		t.Fatal("Mint debió fallar con rng roto")
	}
	if len(src.keys) != before {
		t.Errorf("una emisión fallida no debe tocar el origen")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"no base64", "%%%not-base64%%%"},
		{"base64 sin json", base64.StdEncoding.EncodeToString([]byte("hola"))},
		{"vacío", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeToken(tc.token); !errors.Is(err, ErrMalformedToken) {
				t.Fatalf("err = %v, want ErrMalformedToken", err)
			}
		})
	}
}
