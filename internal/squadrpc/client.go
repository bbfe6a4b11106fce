package squadrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client dispatches work items to a remote worker bridge over Connect,
// matching the convoy.AgentExecutor function
// shape so it can be plugged in directly in place of an in-process
// executor.
type Client struct {
	inner *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient builds a Client calling baseURL's worker bridge. httpClient
// may be nil to use http.DefaultClient.
func NewClient(baseURL string, httpClient connect.HTTPClient, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		inner: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+DispatchProcedure, opts...),
	}
}

// Dispatch sends one work item to the remote worker bridge and returns
// its result summary, or the remote-reported error.
func (c *Client) Dispatch(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error) {
	fields := map[string]any{
		"agent_type":   agentType,
		"work_item_id": workItemID,
	}
	if taskContext != nil {
		fields["task_context"] = taskContext
	}
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return "", err
	}

	resp, err := c.inner.CallUnary(ctx, connect.NewRequest(payload))
	if err != nil {
		return "", err
	}

	out := resp.Msg.GetFields()
	if ok := out["ok"].GetBoolValue(); !ok {
		return "", remoteDispatchError(out["error"].GetStringValue())
	}
	return out["result"].GetStringValue(), nil
}

type remoteDispatchError string

func (e remoteDispatchError) Error() string { return string(e) }
