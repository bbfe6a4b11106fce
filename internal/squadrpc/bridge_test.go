package squadrpc_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/squadcore/core/internal/squadrpc"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, fn squadrpc.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(squadrpc.NewMux(fn))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_RoundTripsResult(t *testing.T) {
	srv := newTestServer(t, func(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error) {
		require.Equal(t, "engineer", agentType)
		require.Equal(t, "wi-1", workItemID)
		return "done:" + agentType, nil
	})

	client := squadrpc.NewClient(srv.URL, srv.Client())
	result, err := client.Dispatch(context.Background(), "engineer", "wi-1", map[string]any{"branch": "main"})
	require.NoError(t, err)
	require.Equal(t, "done:engineer", result)
}

func TestDispatch_PropagatesRemoteError(t *testing.T) {
	srv := newTestServer(t, func(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error) {
		return "", boomError{}
	})

	client := squadrpc.NewClient(srv.URL, srv.Client())
	_, err := client.Dispatch(context.Background(), "engineer", "wi-1", nil)
	require.Error(t, err)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }
