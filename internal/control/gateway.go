package control

import (
	"context"
	"net/http"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewGateway returns an HTTP/JSON front end for srv:
//
//	GET  /v1/status
//	POST /v1/say     {"text": "..."}
//	POST /v1/reset
//	GET  /metrics    (only when gatherer is non-nil)
//
// The Authorization header is forwarded to srv as gRPC metadata.
func NewGateway(srv ControlServer, gatherer prometheus.Gatherer) (http.Handler, error) {
	marshaler := &gwruntime.JSONPb{}
	mux := gwruntime.NewServeMux(
		gwruntime.WithMarshalerOption(gwruntime.MIMEWildcard, marshaler),
	)

	reply := func(ctx context.Context, w http.ResponseWriter, r *http.Request, msg proto.Message, err error) {
		if err != nil {
			gwruntime.HTTPError(ctx, mux, marshaler, w, r, err)
			return
		}
		b, err := marshaler.Marshal(msg)
		if err != nil {
			gwruntime.HTTPError(ctx, mux, marshaler, w, r, status.Error(codes.Internal, err.Error()))
			return
		}
		w.Header().Set("Content-Type", marshaler.ContentType(msg))
		_, _ = w.Write(b)
	}

	routes := []route{
		{http.MethodGet, "/v1/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			ctx := incoming(r)
			res, err := srv.Status(ctx, &emptypb.Empty{})
			reply(ctx, w, r, res, err)
		}},
		{http.MethodPost, "/v1/say", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			ctx := incoming(r)
			req := new(structpb.Struct)
			if err := marshaler.NewDecoder(r.Body).Decode(req); err != nil {
				gwruntime.HTTPError(ctx, mux, marshaler, w, r, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
			res, err := srv.Say(ctx, req)
			reply(ctx, w, r, res, err)
		}},
		{http.MethodPost, "/v1/reset", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			ctx := incoming(r)
			res, err := srv.Reset(ctx, &emptypb.Empty{})
			reply(ctx, w, r, res, err)
		}},
	}
	if gatherer != nil {
		metricsHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		routes = append(routes, route{http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metricsHandler.ServeHTTP(w, r)
		}})
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

type route struct {
	method, path string
	h            gwruntime.HandlerFunc
}

func incoming(r *http.Request) context.Context {
	ctx := r.Context()
	if auth := r.Header.Get("Authorization"); auth != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", auth))
	}
	return ctx
}
