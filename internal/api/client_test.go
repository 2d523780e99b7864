package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/diskuss-client/internal/socket"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(server.URL, server.Client(), validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	return client, server
}

func TestLoginReturnsToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "alice", payload["username"])

		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123", "message": "SUCCESS"})
	}))

	token, err := client.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)
}

func TestLoginRejectionIsAuthError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid credentials"})
	}))

	_, err := client.Login(context.Background(), "alice", "wrong")

	var authErr *socket.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Error(), "Invalid credentials")
}

func TestLoginValidatesInputLocally(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.Login(context.Background(), "", "")
	require.Error(t, err)
}

func TestMeDecodesUser(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "User retrieved successfully",
			"data":    map[string]string{"_id": "u1", "username": "alice"},
		})
	}))

	user, err := client.Me(context.Background(), "tok-123")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
	require.Equal(t, "alice", user.Username)
}

func TestSearchUsersEscapesQuery(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/diskuss/users", r.URL.Path)
		require.Equal(t, "a b", r.URL.Query().Get("username"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "ok",
			"data":    []map[string]string{{"_id": "u2", "username": "a bert"}},
		})
	}))

	users, err := client.SearchUsers(context.Background(), "tok", "a b")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "u2", users[0].ID)
}

func TestCreateDiscussionDecodesEntity(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, []string{"u2"}, payload["participants"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "ok",
			"data": map[string]any{
				"_id": "d9",
				"participants": []map[string]string{
					{"_id": "u1", "username": "alice"},
					{"_id": "u2", "username": "bob"},
				},
			},
		})
	}))

	disc, err := client.CreateDiscussion(context.Background(), "tok", []string{"u2"})
	require.NoError(t, err)
	require.Equal(t, "d9", disc.ID)
	require.Len(t, disc.Participants, 2)
}

func TestServerFailureSurfacesMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom"})
	}))

	_, err := client.Discussions(context.Background(), "tok")
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
