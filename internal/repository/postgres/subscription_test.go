package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/service/subscription"
)

const testSubscriberID = "5f0c1c51-7a6a-4a59-9a49-0c9d7a1f7e10"

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testIdentity(t *testing.T) domain.SubscriberIdentity {
	t.Helper()
	id, err := domain.NewSubscriberIdentity("Ursula", "ursula@example.com")
	if err != nil {
		t.Fatalf("NewSubscriberIdentity: %v", err)
	}
	return id
}

func TestCreatePending_CommitsBothRows(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ident := testIdentity(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(sqlmock.AnyArg(), "ursula@example.com", "Ursula", sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscription_tokens").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, token, err := repo.CreatePending(context.Background(), ident.Name, ident.Email)
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if id == "" {
		t.Error("expected subscriber id")
	}
	if len(token) != subscription.TokenLength {
		t.Errorf("expected %d-char token, got %q", subscription.TokenLength, token)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreatePending_TokenInsertFailure_RollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ident := testIdentity(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscriptions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subscription_tokens").WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, _, err := repo.CreatePending(context.Background(), ident.Name, ident.Email)
	var se *subscription.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if se.Kind != subscription.Transient {
		t.Errorf("expected transient, got %s", se.Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreatePending_DuplicateEmail_Conflict(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ident := testIdentity(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, _, err := repo.CreatePending(context.Background(), ident.Name, ident.Email)
	if !errors.Is(err, subscription.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreatePending_BeginFailure(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ident := testIdentity(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, _, err := repo.CreatePending(context.Background(), ident.Name, ident.Email)
	if !errors.Is(err, subscription.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestFindSubscriberByToken(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT subscriber_id FROM subscription_tokens").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"subscriber_id"}).AddRow(testSubscriberID))
	mock.ExpectQuery("SELECT subscriber_id FROM subscription_tokens").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	id, found, err := repo.FindSubscriberByToken(ctx, "abc")
	if err != nil || !found || id != testSubscriberID {
		t.Errorf("expected (%s, true, nil), got (%s, %v, %v)", testSubscriberID, id, found, err)
	}

	_, found, err = repo.FindSubscriberByToken(ctx, "missing")
	if err != nil || found {
		t.Errorf("expected (false, nil) for unknown token, got (%v, %v)", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirm(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs("confirmed", testSubscriberID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs("confirmed", testSubscriberID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Confirm(ctx, testSubscriberID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := repo.Confirm(ctx, testSubscriberID); !errors.Is(err, subscription.ErrSubscriberNotFound) {
		t.Errorf("expected ErrSubscriberNotFound, got %v", err)
	}
	if err := repo.Confirm(ctx, "not-a-uuid"); !errors.Is(err, subscription.ErrSubscriberNotFound) {
		t.Errorf("expected ErrSubscriberNotFound for malformed id, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConfirm_RowsAffectedFailure(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)

	mock.ExpectExec("UPDATE subscriptions SET status").
		WithArgs("confirmed", testSubscriberID).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver: bad connection")))

	err := repo.Confirm(context.Background(), testSubscriberID)
	if errors.Is(err, subscription.ErrSubscriberNotFound) {
		t.Fatal("driver failure reported as unknown subscriber")
	}
	var se *subscription.StoreError
	if !errors.As(err, &se) || se.Kind != subscription.Transient {
		t.Errorf("expected transient StoreError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGet(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, email, name, status, subscribed_at").
		WithArgs(testSubscriberID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "status", "subscribed_at"}).
			AddRow(testSubscriberID, "ursula@example.com", "Ursula", "pending", at))

	s, err := repo.Get(context.Background(), testSubscriberID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Status != domain.SubscriberPending || s.Email != "ursula@example.com" || !s.SubscribedAt.Equal(at) {
		t.Errorf("unexpected subscriber %+v", s)
	}
}

func TestFindTokenBySubscriber_Missing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubscriptionRepo(db)

	mock.ExpectQuery("SELECT subscription_token FROM subscription_tokens").
		WithArgs(testSubscriberID).
		WillReturnError(sql.ErrNoRows)

	_, found, err := repo.FindTokenBySubscriber(context.Background(), testSubscriberID)
	if err != nil || found {
		t.Errorf("expected (false, nil), got (%v, %v)", found, err)
	}
}
