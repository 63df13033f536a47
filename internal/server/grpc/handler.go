package grpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStatus maps a ledger error to a gRPC status. Internal detail is not
// sent to the client.
func toStatus(err error) error {
	msg := common.MessageOf(err)
	switch common.CodeOf(err) {
	case common.CodeValidation, common.CodeInvalidPayload, common.CodeInvalidJSON:
		return status.Error(codes.InvalidArgument, msg)
	case common.CodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case common.CodeRateLimited:
		return status.Error(codes.ResourceExhausted, msg)
	case common.CodeUnavailable:
		return status.Error(codes.Unavailable, msg)
	}
	return status.Error(codes.Internal, msg)
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func (s *GRPCServer) fail(ctx context.Context, method string, err error) error {
	if common.CodeOf(err) == common.CodeInternal {
		s.logger.Error(ctx, err.Error(), "method", method)
	}
	return toStatus(err)
}

func (s *GRPCServer) Heartbeat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	project := stringField(req, "projectName")
	if err := ledger.ValidateProjectName(project); err != nil {
		return nil, toStatus(err)
	}

	now := s.clock.Now()
	ts := now
	if v, ok := req.GetFields()["timestamp"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, toStatus(common.NewError(common.CodeInvalidPayload, "timestamp must be epoch milliseconds"))
		}
		// non-positive means "now"
		if ms := int64(v.GetNumberValue()); ms > 0 {
			ts = time.UnixMilli(ms)
			if s.maxSkew > 0 && ts.After(now.Add(s.maxSkew)) {
				return nil, toStatus(common.NewError(common.CodeInvalidPayload, "timestamp is in the future"))
			}
		}
	}
	minute := ledger.MinuteOf(ts)

	counted, err := s.ledger.AddMinute(ctx, userIDFrom(ctx), project, minute)
	if err != nil {
		return nil, s.fail(ctx, "Heartbeat", err)
	}

	return structpb.NewStruct(map[string]any{
		"accepted":    counted,
		"minuteIndex": float64(minute),
	})
}

func (s *GRPCServer) Summary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sum, err := s.ledger.Summarize(ctx, userIDFrom(ctx), stringField(req, "range"), stringField(req, "project"))
	if err != nil {
		return nil, s.fail(ctx, "Summary", err)
	}
	return toStruct(sum)
}

func (s *GRPCServer) DailyRange(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	from, err := ledger.ParseDate(stringField(req, "from"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid from date")
	}
	to, err := ledger.ParseDate(stringField(req, "to"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid to date")
	}

	series, err := s.ledger.DailyRange(ctx, userIDFrom(ctx), from, to, stringField(req, "project"))
	if err != nil {
		return nil, s.fail(ctx, "DailyRange", err)
	}
	return toStruct(series)
}

func (s *GRPCServer) ListProjects(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	names, err := s.ledger.ListProjects(ctx, userIDFrom(ctx), stringField(req, "range"))
	if err != nil {
		return nil, s.fail(ctx, "ListProjects", err)
	}
	return toStruct(map[string]any{"projects": names})
}
