package policyfile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
)

var faf = mdp.FAF{Altitude: 1000, Speed: 70, Config: 3}

func testPolicy() rollout.MapPolicy {
	p := rollout.MapPolicy{}
	for d := 0.0; d <= 5000; d += 1000 {
		for alt := 1000.0; alt <= 1500; alt += 50 {
			p[mdp.State{Altitude: alt, Speed: 80, Config: 1, Distance: d}] = mdp.AllActions[int(alt/50)%len(mdp.AllActions)]
		}
	}
	return p
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies", "b737"+Extension)
	p := testPolicy()
	if err := Save(path, "b737", faf, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	hdr, back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hdr.Aircraft != "b737" || hdr.FAF != faf {
		t.Errorf("header = %+v", hdr)
	}
	if len(back) != len(p) {
		t.Fatalf("loaded %d entries, saved %d", len(back), len(p))
	}
	for s, a := range p {
		if back[s] != a {
			t.Errorf("%v: loaded %s, expected %s", s, back[s], a)
		}
	}
}

func TestDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := Encode(&a, "b737", faf, testPolicy()); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&b, "b737", faf, testPolicy()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Errorf("encoding the same policy twice gave different bytes")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, _, err := Decode(bytes.NewReader([]byte("not a policy"))); err == nil {
		t.Errorf("expected error decoding garbage")
	}
	if err := Encode(&bytes.Buffer{}, "x", faf, rollout.MapPolicy{{Speed: 1}: mdp.Action(99)}); err == nil {
		t.Errorf("expected error encoding an invalid action")
	}
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing"+Extension)); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func encodeRaw(t *testing.T, f File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&f); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeDuplicateEntries(t *testing.T) {
	entry := Entry{Altitude: 1000, Speed: 80, Config: 1, Distance: 2000, Action: mdp.Level.String()}
	other := entry
	other.Distance = 1000

	data := encodeRaw(t, File{Version: currentVersion, Aircraft: "b737", FAF: faf, Entries: []Entry{entry, other}})
	if _, p, err := Decode(bytes.NewReader(data)); err != nil || len(p) != 2 {
		t.Fatalf("distinct entries: %v, %d entries", err, len(p))
	}

	dup := entry
	dup.Action = mdp.Descend.String()
	data = encodeRaw(t, File{Version: currentVersion, Aircraft: "b737", FAF: faf, Entries: []Entry{entry, other, dup}})
	_, _, err := Decode(bytes.NewReader(data))
	if err == nil {
		t.Fatalf("expected error for a duplicate state")
	}
	if !strings.Contains(err.Error(), "entry 2") {
		t.Errorf("error should name the duplicate entry: %v", err)
	}
}
