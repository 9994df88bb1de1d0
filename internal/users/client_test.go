package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/users/2", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":2,"name":"Boris","email":"boris@example.com"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	user, err := client.GetUser(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, user.ID)
	require.Equal(t, "Boris", user.Name)
}

func TestGetUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.GetUser(context.Background(), 99)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.GetUser(context.Background(), 2)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUserNotFound)
}

func TestBulkUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/users", r.URL.Path)
		require.Equal(t, "2,4", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"users":[{"id":2,"name":"Boris"},{"id":4,"name":"Dina"}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	list, err := client.BulkUsers(context.Background(), []int{2, 4})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Dina", list[1].Name)
}

func TestBulkUsersEmptyInputSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty id list")
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	list, err := client.BulkUsers(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, list)
}
