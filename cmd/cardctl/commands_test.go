package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestRandomHex(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xab}, 32))
	got, err := randomHex(src, 32)
	if err != nil {
		t.Fatal(err)
	}
	if got != strings.Repeat("ab", 32) {
		t.Errorf("randomHex = %q", got)
	}

	if _, err := randomHex(bytes.NewReader(nil), 32); err == nil {
		t.Error("short entropy source accepted")
	}
	if _, err := randomHex(bytes.NewReader(make([]byte, 8)), 8); err == nil {
		t.Error("8 byte key accepted")
	}
}

func TestKeygenCommand(t *testing.T) {
	cmd := keygenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--bytes", "24"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	key := strings.TrimSpace(out.String())
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 24 {
		t.Fatalf("key %q decodes to %d bytes, %v", key, len(raw), err)
	}
}

func TestPromoteRejectsBadID(t *testing.T) {
	for _, arg := range []string{"abc", "0", "12x"} {
		cmd := promoteCmd()
		cmd.SetArgs([]string{arg})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid user id") {
			t.Errorf("promote %q err = %v", arg, err)
		}
	}
}
