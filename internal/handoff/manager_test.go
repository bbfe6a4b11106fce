package handoff_test

import (
	"context"
	"testing"

	"github.com/squadcore/core/internal/handoff"
	"github.com/stretchr/testify/require"
)

func TestInitiate_RequiresAck_StartsPending(t *testing.T) {
	m, err := handoff.NewManager(t.TempDir(), nil, nil)
	require.NoError(t, err)

	h, err := m.Initiate(context.Background(), "sq-1", "pm", "engineer", handoff.ReasonWorkflow,
		handoff.Context{Summary: "requirements defined", CurrentState: "ready"}, true)
	require.NoError(t, err)
	require.Equal(t, handoff.StatusPending, h.Status)
}

func TestAcceptThenComplete(t *testing.T) {
	m, err := handoff.NewManager(t.TempDir(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := m.Initiate(ctx, "sq-1", "pm", "engineer", handoff.ReasonWorkflow, handoff.Context{Summary: "go"}, true)
	require.NoError(t, err)

	accepted, err := m.Accept(ctx, h.ID, "on it")
	require.NoError(t, err)
	require.Equal(t, handoff.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	completed, err := m.Complete(ctx, h.ID)
	require.NoError(t, err)
	require.Equal(t, handoff.StatusCompleted, completed.Status)
	require.Len(t, completed.AuditLog, 3)
}

func TestReject(t *testing.T) {
	m, err := handoff.NewManager(t.TempDir(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := m.Initiate(ctx, "sq-1", "pm", "engineer", handoff.ReasonBlocker, handoff.Context{Summary: "blocked"}, true)
	require.NoError(t, err)

	rejected, err := m.Reject(ctx, h.ID, "wrong specialty")
	require.NoError(t, err)
	require.Equal(t, handoff.StatusRejected, rejected.Status)
	require.Equal(t, "wrong specialty", rejected.RejectionReason)
}

func TestDelegation_CreateAndComplete(t *testing.T) {
	dm, err := handoff.NewDelegationManager(t.TempDir(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	link, err := dm.CreateDelegation(ctx, "captain", "engineer", "sq-1", "implement auth", "")
	require.NoError(t, err)
	require.Equal(t, handoff.DelegationInitiated, link.Status)

	completed, err := dm.CompleteDelegation(ctx, link.ID, "shipped")
	require.NoError(t, err)
	require.Equal(t, handoff.DelegationCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}
