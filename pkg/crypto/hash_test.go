package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// Тесты используют минимальную стоимость, чтобы не тратить секунды на bcrypt
const testCost = bcrypt.MinCost

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("operator-pass", testCost)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("unexpected hash format %q", hash)
	}
	if err := ValidateHash(hash); err != nil {
		t.Errorf("ValidateHash: %v", err)
	}
}

func TestHashPasswordErrors(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"пустой пароль", "", ErrEmptyPassword},
		{"длиннее 72 байт", strings.Repeat("a", MaxPasswordLength+1), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := HashPassword(tt.password, testCost); err != tt.wantErr {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPassword("pw", 1)
	if err != nil {
		t.Fatal(err)
	}
	cost, _ := bcrypt.Cost([]byte(hash))
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.MinCost)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, _ := HashPassword("correct", testCost)

	tests := []struct {
		name     string
		password string
		hash     string
		wantErr  error
	}{
		{"верный пароль", "correct", hash, nil},
		{"неверный пароль", "wrong", hash, ErrPasswordMismatch},
		{"пустой пароль", "", hash, ErrEmptyPassword},
		{"пустой хеш", "correct", "", ErrInvalidHash},
		{"не bcrypt", "correct", "plaintext", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyPassword(tt.password, tt.hash); err != tt.wantErr {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateHashRejectsGarbage(t *testing.T) {
	for _, h := range []string{"", "secret", "$2a$"} {
		if err := ValidateHash(h); err != ErrInvalidHash {
			t.Errorf("ValidateHash(%q) = %v, want ErrInvalidHash", h, err)
		}
	}
}

func TestCredentialsVerify(t *testing.T) {
	hash, _ := HashPassword("s3cret", testCost)
	creds := Credentials{Username: "operator", PasswordHash: hash}

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"верные данные", "operator", "s3cret", true},
		{"неверный логин", "admin", "s3cret", false},
		{"неверный пароль", "operator", "nope", false},
		{"пустые данные", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := creds.Verify(tt.username, tt.password); got != tt.want {
				t.Errorf("Verify(%q, %q) = %v, want %v", tt.username, tt.password, got, tt.want)
			}
		})
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, _ := HashPassword("benchmark", testCost)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyPassword("benchmark", hash)
	}
}
