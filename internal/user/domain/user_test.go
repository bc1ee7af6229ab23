package domain

import (
	"testing"
	"time"
)

func TestUser_Validate(t *testing.T) {
	u := &User{ID: "u1", Email: "a@b.co", PasswordHash: "h"}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, bad := range []*User{
		{Email: "a@b.co", PasswordHash: "h"},
		{ID: "u1", PasswordHash: "h"},
		{ID: "u1", Email: "a@b.co"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("Validate(%+v): want error", bad)
		}
	}
}

func TestUser_Lockout(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)
	u := &User{Active: true, LockedUntil: &until}
	if !u.IsLockedOut(now) {
		t.Error("IsLockedOut before LockedUntil: want true")
	}
	if u.IsLockedOut(until) {
		t.Error("IsLockedOut at LockedUntil: want false")
	}
	if u.CanAuthenticate(now) {
		t.Error("CanAuthenticate while locked: want false")
	}
	if !u.CanAuthenticate(until.Add(time.Second)) {
		t.Error("CanAuthenticate after lockout: want true")
	}
	u.Active = false
	if u.CanAuthenticate(until.Add(time.Second)) {
		t.Error("CanAuthenticate inactive: want false")
	}
}
