package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/auroraops/aurora/pkg/models"
)

func newMockConnections(t *testing.T) (*PostgresConnections, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresConnectionsWithDB(db), mock
}

func TestConnectionsGetDefault(t *testing.T) {
	store, mock := newMockConnections(t)

	mock.ExpectQuery(`SELECT data FROM provider_connections`).
		WithArgs("user-1", "aws", "").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow(`{"access_key_id":"AKIA...","region":"eu-west-1"}`))

	data, err := store.Get(context.Background(), "user-1", models.ProviderAWS, "")
	if err != nil {
		t.Fatal(err)
	}
	if data["region"] != "eu-west-1" {
		t.Errorf("data = %v", data)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestConnectionsGetMissing(t *testing.T) {
	store, mock := newMockConnections(t)

	mock.ExpectQuery(`SELECT data FROM provider_connections`).
		WithArgs("user-1", "gcp", "").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := store.Get(context.Background(), "user-1", models.ProviderGCP, "")
	if !errors.Is(err, ErrNoConnection) {
		t.Errorf("err = %v, want ErrNoConnection", err)
	}
}

func TestConnectionsListAndSave(t *testing.T) {
	store, mock := newMockConnections(t)

	mock.ExpectQuery(`SELECT data FROM provider_connections`).
		WithArgs("user-1", "aws").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow(`{"account":"111111111111"}`).
			AddRow(`{"account":"222222222222"}`))

	all, err := store.List(context.Background(), "user-1", models.ProviderAWS)
	if err != nil || len(all) != 2 {
		t.Fatalf("list = %v err = %v", all, err)
	}

	mock.ExpectExec(`INSERT INTO provider_connections`).
		WithArgs("user-1", "ovh", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Save(context.Background(), "user-1", models.ProviderOVH, "",
		map[string]string{"access_token": "refreshed"})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestConnectionsConnectedGitHub(t *testing.T) {
	store, mock := newMockConnections(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if !store.Connected(context.Background(), "user-1") {
		t.Error("github connection not reported")
	}
}
