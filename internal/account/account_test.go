package account

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examportal/internal/ingest/tabular"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, bcrypt.MinCost), s
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, NewUser{Username: "  Riya ", Password: "pw1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Username != "riya" || u.DisplayName != "riya" || u.Role != model.UserRoleStudent {
		t.Errorf("unexpected user %+v", u)
	}

	got, err := svc.Authenticate(ctx, "RIYA", "pw1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate: %+v, %v", got, err)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "riya", "nope"},
		{"unknown user", "ghost", "pw1"},
		{"empty username", " ", "pw1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tt.username, tt.password)
			if !errors.Is(err, model.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}

	if err := s.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, "riya", "pw1"); !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("inactive user should not log in, got %v", err)
	}

	if _, err := svc.Create(ctx, NewUser{Username: "riya", Password: "x"}); !errors.Is(err, model.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	boss, err := svc.Create(ctx, NewUser{Username: "boss", Password: "pw", Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	admins, _ := s.AdminUsers(ctx)
	if strings.Join(admins, ",") != "admin,boss" {
		t.Errorf("expected boss appended to AdminUsers, got %v", admins)
	}

	student, _ := svc.Create(ctx, NewUser{Username: "kid", Password: "pw"})
	// Listed in the setting without the admin role.
	listed, _ := svc.Create(ctx, NewUser{Username: "teacher", Password: "pw"})
	if err := s.AddAdminUser(ctx, "Teacher"); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		user *model.User
		want bool
	}{
		{boss, true},
		{student, false},
		{listed, true},
		{nil, false},
	} {
		got, err := svc.IsAdmin(ctx, tc.user)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("IsAdmin(%v) = %v, want %v", tc.user, got, tc.want)
		}
	}
}

func TestBulkCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rows := tabular.ParseUsers(tabular.ReadCSV("Username,Name,Password\nasha,Asha K,\nbala,,secret\nASHA,dup,\n"), "")
	results, created := svc.BulkCreate(ctx, rows)
	if created != 2 {
		t.Errorf("expected 2 created, got %d (%+v)", created, results)
	}
	if len(results) != 3 || results[2].Status != "ERROR: "+model.ErrUserExists.Error() {
		t.Errorf("unexpected results %+v", results)
	}
	if _, err := svc.Authenticate(ctx, "asha", tabular.DefaultPasswordPrefix+"2"); err != nil {
		t.Errorf("generated password should work: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "bala", "secret"); err != nil {
		t.Errorf("explicit password should work: %v", err)
	}
}

func TestSeedAdmin(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	if err := svc.SeedAdmin(ctx, ""); err == nil {
		t.Fatal("expected error without a password on an empty database")
	}
	if err := svc.SeedAdmin(ctx, "topsecret"); err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	u, err := svc.Authenticate(ctx, "admin", "topsecret")
	if err != nil || u.Role != model.UserRoleAdmin {
		t.Fatalf("seeded admin cannot log in: %+v, %v", u, err)
	}
	// Existing users make seeding a no-op, even without a password.
	if err := svc.SeedAdmin(ctx, ""); err != nil {
		t.Errorf("second SeedAdmin: %v", err)
	}
	if n, _ := s.UserCount(ctx); n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}
