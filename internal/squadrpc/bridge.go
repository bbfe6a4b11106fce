// Package squadrpc exposes work dispatch over a Connect RPC worker
// bridge, so a convoy or captain executor can hand a work item to an
// agent process running on another host instead of an in-process
// AgentExecutor closure. Payloads are carried as protobuf Struct values
// rather than a generated message schema, since the dispatch contract
// (agent type, work item id, free-form task context) is inherently
// dynamic across agent roles.
package squadrpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// DispatchProcedure is the fully-qualified RPC path the bridge serves
// and clients call, in the same "/package.Service/Method" shape connect
// generates from a .proto service definition.
const DispatchProcedure = "/squadcore.captain.v1.WorkerBridge/Dispatch"

// Handler runs one dispatched work item on the receiving worker and
// returns its result summary, the same contract as
// convoy.AgentExecutor, so one can be wrapped to serve remote dispatch.
type Handler func(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error)

// NewDispatchHandler adapts fn into a Connect unary handler for
// DispatchProcedure. Register it with an http.ServeMux at
// DispatchProcedure to serve dispatch requests.
func NewDispatchHandler(fn Handler, opts ...connect.HandlerOption) *connect.Handler {
	return connect.NewUnaryHandler(DispatchProcedure, func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		fields := req.Msg.GetFields()

		agentType := fields["agent_type"].GetStringValue()
		workItemID := fields["work_item_id"].GetStringValue()

		var taskContext map[string]any
		if ctxStruct := fields["task_context"].GetStructValue(); ctxStruct != nil {
			taskContext = ctxStruct.AsMap()
		}

		if agentType == "" || workItemID == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errMissingFields)
		}

		result, err := fn(ctx, agentType, workItemID, taskContext)
		if err != nil {
			resp, buildErr := structpb.NewStruct(map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			if buildErr != nil {
				return nil, connect.NewError(connect.CodeInternal, buildErr)
			}
			return connect.NewResponse(resp), nil
		}

		resp, buildErr := structpb.NewStruct(map[string]any{
			"ok":     true,
			"result": result,
		})
		if buildErr != nil {
			return nil, connect.NewError(connect.CodeInternal, buildErr)
		}
		return connect.NewResponse(resp), nil
	}, opts...)
}

// NewMux builds an http.ServeMux serving fn at DispatchProcedure.
func NewMux(fn Handler, opts ...connect.HandlerOption) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(DispatchProcedure, NewDispatchHandler(fn, opts...))
	return mux
}

var errMissingFields = dispatchFieldsError{}

type dispatchFieldsError struct{}

func (dispatchFieldsError) Error() string {
	return "dispatch request requires agent_type and work_item_id"
}
