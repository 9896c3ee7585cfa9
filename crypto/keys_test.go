package crypto

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, AddressLength)
	addr := NewAddress(AccountPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), addr.Bytes())
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %q", decoded.Prefix())
	}
}

func TestParseAddressRejectsWrongPrefix(t *testing.T) {
	addr := NewAddress(MintPrefix, bytes.Repeat([]byte{0x01}, AddressLength))
	if _, err := ParseAddress(AccountPrefix, addr.String()); err == nil {
		t.Fatalf("expected prefix mismatch error")
	}
	if _, err := ParseAddress(MintPrefix, addr.String()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddressFromBytesCopiesInput(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, AddressLength)
	addr, err := AddressFromBytes(AccountPrefix, raw)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	raw[0] = 0xFF
	if addr.Bytes()[0] != 0x07 {
		t.Fatalf("address aliases caller buffer")
	}
	if _, err := AddressFromBytes(AccountPrefix, raw[:19]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestDeriveAddressDeterministicAndDistinct(t *testing.T) {
	a := DeriveAddress([]byte("vault_state"))
	b := DeriveAddress([]byte("vault_state"))
	if !a.Equal(b) {
		t.Fatalf("derivation not deterministic")
	}
	if a.Prefix() != ProgramPrefix {
		t.Fatalf("expected program prefix, got %q", a.Prefix())
	}
	if DeriveAddress([]byte("ab"), []byte("c")).Equal(DeriveAddress([]byte("a"), []byte("bc"))) {
		t.Fatalf("seed boundaries must be part of the derivation")
	}
	if a.Equal(DeriveAddress([]byte("vault_tokens"))) {
		t.Fatalf("distinct seeds derived the same address")
	}
}

func TestAddressJSON(t *testing.T) {
	addr := NewAddress(AccountPrefix, bytes.Repeat([]byte{0x09}, AddressLength))
	payload, err := json.Marshal(struct {
		Owner Address `json:"owner"`
	}{Owner: addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		Owner Address `json:"owner"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Owner.Equal(addr) {
		t.Fatalf("json round trip mismatch")
	}
	var zero Address
	if !zero.IsZero() || zero.String() != "" {
		t.Fatalf("zero address should render empty")
	}
}

func TestKeystoreIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "admin.json")
	addr, err := NewKeystoreIdentity(path, "correct horse")
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	key, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !key.PubKey().Address().Equal(addr) {
		t.Fatalf("keystore returned a different identity")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected decryption failure with wrong passphrase")
	}
}
