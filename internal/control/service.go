// Package control exposes a running monitor over gRPC and HTTP/JSON:
// status queries, manually submitted text, and cache resets.
//
// The service uses well-known protobuf types only, so no generated code is
// needed. Status returns a google.protobuf.Struct, Say takes a Struct with a
// "text" field, and Reset takes and returns google.protobuf.Empty.
package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/echolink/internal/hub"
	"go.klb.dev/echolink/internal/monitor"
	"go.klb.dev/echolink/internal/speaker"
)

// Monitor is the part of *monitor.Monitor the service drives.
type Monitor interface {
	Snapshot() monitor.Stats
	Offer(text string) (*monitor.Event, monitor.Verdict, error)
	Reset()
}

// SpeakerStats reports speaker activity for Status.
type SpeakerStats interface {
	Snapshot() speaker.Stats
}

// Options configures a Service.
type Options struct {
	Version string
	// Token, when set, is required as a bearer token on every call.
	Token string
	// Hub and Speaker are optional and only add detail to Status.
	Hub     *hub.Hub
	Speaker SpeakerStats
}

// Service implements ControlServer.
type Service struct {
	mon     Monitor
	opts    Options
	started time.Time
}

// NewService returns a Service backed by mon.
func NewService(mon Monitor, opts Options) *Service {
	return &Service{mon: mon, opts: opts, started: time.Now()}
}

// Status implements ControlServer.Status.
func (s *Service) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	st := s.mon.Snapshot()

	mon := map[string]any{
		"state":           st.State.String(),
		"source":          st.Source,
		"enabled":         st.Enabled,
		"interval":        st.Interval,
		"min_text_length": float64(st.MinTextLength),
		"processed_count": float64(st.ProcessedCount),
		"duplicates":      float64(st.Duplicates),
		"suppressed":      float64(st.Suppressed),
		"failures":        float64(st.Failures),
		"history":         float64(st.HistoryLen),
	}
	if !st.LastEmitAt.IsZero() {
		mon["last_emit_at"] = st.LastEmitAt.UTC().Format(time.RFC3339)
	}
	if st.LastError != "" {
		mon["last_error"] = st.LastError
	}
	if st.HasPosition {
		mon["position"] = float64(st.Position)
	}

	out := map[string]any{
		"version": s.opts.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"monitor": mon,
	}

	if h := s.opts.Hub; h != nil {
		sinks := make([]any, 0)
		for _, id := range h.Sinks() {
			sinks = append(sinks, id)
		}
		out["sinks"] = sinks
		out["received"] = float64(h.Received())
		if ev, ok := h.Latest(); ok {
			out["latest"] = map[string]any{
				"id":          ev.ID,
				"source":      string(ev.Source),
				"observed_at": ev.ObservedAt.UTC().Format(time.RFC3339),
				"chars":       float64(len([]rune(ev.Text))),
			}
		}
	}

	if sp := s.opts.Speaker; sp != nil {
		ss := sp.Snapshot()
		spk := map[string]any{
			"queued":  float64(ss.Queued),
			"spoken":  float64(ss.Spoken),
			"failed":  float64(ss.Failed),
			"dropped": float64(ss.Dropped),
		}
		if ss.LastFile != "" {
			spk["last_file"] = ss.LastFile
		}
		out["speaker"] = spk
	}

	res, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "status: %v", err)
	}
	return res, nil
}

// Say implements ControlServer.Say. The text goes through the same filters
// as polled content and, if emitted, to every sink.
func (s *Service) Say(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	text := req.GetFields()["text"].GetStringValue()
	if strings.TrimSpace(text) == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}

	ev, verdict, err := s.mon.Offer(text)
	if errors.Is(err, monitor.ErrStopped) {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	out := map[string]any{"verdict": string(verdict)}
	if ev != nil {
		out["id"] = ev.ID
	}
	slog.Debug("say request", "verdict", verdict)

	res, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "say: %v", err)
	}
	return res, nil
}

// Reset implements ControlServer.Reset.
func (s *Service) Reset(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	s.mon.Reset()
	return &emptypb.Empty{}, nil
}

// auth validates the bearer token in ctx metadata. Skipped when no token is
// configured.
func (s *Service) auth(ctx context.Context) error {
	if s.opts.Token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 || vals[0] == "" {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	tok := strings.TrimPrefix(vals[0], "Bearer ")
	if tok != s.opts.Token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}
