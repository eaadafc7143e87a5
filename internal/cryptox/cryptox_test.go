package cryptox

import "testing"

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	msg := []byte("prevote:height=1,view=0")
	sig := kp.Sign(msg)

	if !Verify(kp.PublicKey(), msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(kp.PublicKey(), []byte("tampered"), sig) {
		t.Fatal("expected signature over different message to fail")
	}
}

func TestKeypairSeedRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	seed := kp.Seed()

	restored, err := KeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}
	if restored.PublicKey() != kp.PublicKey() {
		t.Fatal("restored keypair has a different public key")
	}

	msg := []byte("round-trip")
	if !Verify(restored.PublicKey(), msg, restored.Sign(msg)) {
		t.Fatal("restored keypair should produce verifiable signatures")
	}
}

func TestKeypairFromSeedRejectsBadLength(t *testing.T) {
	if _, err := KeypairFromSeed([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a short seed")
	}
}

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("payload"))
	b := HashBytes([]byte("payload"))
	if a != b {
		t.Fatal("HashBytes should be deterministic")
	}
	if a == HashBytes([]byte("other")) {
		t.Fatal("different inputs should hash differently")
	}
}

func TestPublicKeyLessIsAntisymmetric(t *testing.T) {
	a := PublicKey{0x01}
	b := PublicKey{0x02}
	if !a.Less(b) || b.Less(a) {
		t.Fatal("Less should give a strict total order")
	}
}
