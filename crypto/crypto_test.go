package crypto

import "testing"

// TestKeyGenAndAddress verifies key generation, encoding and address
// derivation.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 66 {
		t.Errorf("pubkey hex length: got %d want 66", len(pub.Hex()))
	}
	if len(priv.Hex()) != 64 {
		t.Errorf("privkey hex length: got %d want 64", len(priv.Hex()))
	}
	if len(pub.Address()) != 40 {
		t.Errorf("address length: got %d want 40", len(pub.Address()))
	}
	if derived := priv.Public(); derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

// TestKeyHexRoundTrip ensures keys survive hex encode/decode.
func TestKeyHexRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	priv2, err := PrivKeyFromHex(priv.Hex())
	if err != nil {
		t.Fatalf("PrivKeyFromHex: %v", err)
	}
	if priv2.Public().Hex() != pub.Hex() {
		t.Error("private key round-trip lost the public point")
	}
	pub2, err := PubKeyFromHex(pub.Hex())
	if err != nil {
		t.Fatalf("PubKeyFromHex: %v", err)
	}
	if pub2.Hex() != pub.Hex() {
		t.Error("public key round-trip mismatch")
	}
}

// TestPubKeyFromHexRejectsGarbage covers malformed inputs.
func TestPubKeyFromHexRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "zz", "deadbeef", "02"} {
		if _, err := PubKeyFromHex(in); err == nil {
			t.Errorf("PubKeyFromHex(%q) should fail", in)
		}
	}
}

// TestSignVerify ensures Sign/Verify round-trips and catches tampering.
func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello annealchain")
	sig := Sign(priv, data)
	if len(sig) != 128 {
		t.Fatalf("signature hex length: got %d want 128", len(sig))
	}
	if err := Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
	otherPriv, _, _ := GenerateKeyPair()
	if err := Verify(otherPriv.Public(), data, sig); err == nil {
		t.Error("wrong key should fail verification")
	}
}

// TestHashStrings checks the concat hashing used by the PoH chain rule.
func TestHashStrings(t *testing.T) {
	if HashStrings("ab", "cd") != Hash([]byte("abcd")) {
		t.Error("HashStrings must equal Hash of the concatenation")
	}
	if HashStrings("abcd") != HashStrings("ab", "cd") {
		t.Error("split points must not change the digest")
	}
}
