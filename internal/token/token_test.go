package token

import (
	"strings"
	"testing"
	"time"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("u1", now, secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := Verify(tok, secret, time.Hour, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u1" || !id.IssuedAt.Equal(now) {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("u", now, secret)
	if _, err := Verify(tok, secret, time.Minute, now.Add(2*time.Minute)); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := Verify(tok, secret, 0, now.Add(24*time.Hour)); err != nil {
		t.Fatalf("zero ttl should not expire: %v", err)
	}
}

func TestVerifyInvalid(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("u", now, secret)
	cases := []string{tok + "x", "", "a.b.c", "no-dot", strings.Replace(tok, ".", ".AAAA", 1)}
	for _, c := range cases {
		if _, err := Verify(c, secret, time.Minute, now); err != ErrInvalid {
			t.Fatalf("Verify(%q): expected ErrInvalid, got %v", c, err)
		}
	}
	if _, err := Verify(tok, []byte("other"), time.Minute, now); err != ErrInvalid {
		t.Fatalf("wrong secret: expected ErrInvalid, got %v", err)
	}
}

func TestGenerateRejectsBadSubject(t *testing.T) {
	if _, err := Generate("", now, []byte("s")); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for empty subject, got %v", err)
	}
	if _, err := Generate(strings.Repeat("x", MaxSubjectLength+1), now, []byte("s")); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for long subject, got %v", err)
	}
}

func TestVerifierUserID(t *testing.T) {
	v := NewVerifier("secret", time.Hour)
	v.Now = func() time.Time { return now }
	tok, _ := Generate("u42", now, []byte("secret"))

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer " + tok, "u42", false},
		{"lowercase scheme", "bearer " + tok, "u42", false},
		{"missing", "", "", false},
		{"wrong scheme", "Basic " + tok, "", true},
		{"garbage", "Bearer nope", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.UserID(tt.header)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Fatalf("UserID(%q) = (%q, %v)", tt.header, got, err)
			}
		})
	}
}

func TestVerifierWithoutSecretIsAnonymous(t *testing.T) {
	tok, _ := Generate("u1", now, []byte(""))
	v := NewVerifier("", time.Hour)
	if got, err := v.UserID("Bearer " + tok); got != "" || err != nil {
		t.Fatalf("expected anonymous, got (%q, %v)", got, err)
	}
}
