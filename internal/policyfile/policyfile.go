package policyfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
)

// Extension is the file suffix used for policy files
const Extension = ".msgpack.zst"

// Entry is a single state -> action mapping as stored on disk
type Entry struct {
	Altitude float64 `msgpack:"a"`
	Speed    float64 `msgpack:"v"`
	Config   int     `msgpack:"c"`
	Distance float64 `msgpack:"d"`
	Action   string  `msgpack:"x"`
}

// File is the on-disk representation of a policy
type File struct {
	Version  int     `msgpack:"version"`
	Aircraft string  `msgpack:"aircraft"`
	FAF      mdp.FAF `msgpack:"faf"`
	Entries  []Entry `msgpack:"entries"`
}

const currentVersion = 1

// Encode writes the policy as msgpack compressed with zstd. Entries are
// sorted so that identical policies produce identical files.
func Encode(w io.Writer, aircraft string, faf mdp.FAF, p rollout.MapPolicy) error {
	f := File{Version: currentVersion, Aircraft: aircraft, FAF: faf, Entries: make([]Entry, 0, len(p))}
	for s, a := range p {
		if !a.Valid() {
			return fmt.Errorf("invalid action %d for %s", uint8(a), s)
		}
		f.Entries = append(f.Entries, Entry{
			Altitude: s.Altitude,
			Speed:    s.Speed,
			Config:   s.Config,
			Distance: s.Distance,
			Action:   a.String(),
		})
	}
	sort.Slice(f.Entries, func(i, j int) bool {
		a, b := f.Entries[i], f.Entries[j]
		if a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		if a.Altitude != b.Altitude {
			return a.Altitude < b.Altitude
		}
		if a.Speed != b.Speed {
			return a.Speed < b.Speed
		}
		return a.Config < b.Config
	})

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(&f); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// Decode reads a policy written by Encode
func Decode(r io.Reader) (*File, rollout.MapPolicy, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var f File
	if err := msgpack.NewDecoder(zr).Decode(&f); err != nil {
		return nil, nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if f.Version != currentVersion {
		return nil, nil, fmt.Errorf("unsupported policy file version %d", f.Version)
	}

	p := make(rollout.MapPolicy, len(f.Entries))
	for i, e := range f.Entries {
		a, err := mdp.ParseAction(e.Action)
		if err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		s := mdp.State{Altitude: e.Altitude, Speed: e.Speed, Config: e.Config, Distance: e.Distance}
		if _, dup := p[s]; dup {
			return nil, nil, fmt.Errorf("entry %d: duplicate state %s", i, s)
		}
		p[s] = a
	}
	return &f, p, nil
}

// Save writes the policy to path, creating directories as needed
func Save(path, aircraft string, faf mdp.FAF, p rollout.MapPolicy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, aircraft, faf, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a policy file from disk
func Load(path string) (*File, rollout.MapPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	hdr, p, err := Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return hdr, p, nil
}
