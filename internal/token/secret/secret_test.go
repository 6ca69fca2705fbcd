package secret

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$") {
		t.Fatalf("encoded hash = %q, want argon2id prefix", encoded)
	}

	if !Verify("correct horse battery staple", encoded) {
		t.Fatal("correct secret rejected")
	}
	if Verify("wrong secret", encoded) {
		t.Fatal("wrong secret accepted")
	}
	if Verify("correct horse battery staple", "not-an-encoded-hash") {
		t.Fatal("garbage hash accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	first, err := Hash("same secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := Hash("same secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same secret are identical")
	}
}

func TestGenerate(t *testing.T) {
	first, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatal("two generated secrets are identical")
	}
	if len(first) < 24 {
		t.Fatalf("secret length = %d, want at least 24", len(first))
	}
}
