package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not JSON: %v: %s", err, buf.String())
	}
	return line
}

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "ctf-instancer").Info("hello")

	line := decodeLine(t, &buf)
	if line["service"] != "ctf-instancer" {
		t.Errorf("service = %v, want ctf-instancer", line["service"])
	}
	if line["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", line["msg"])
	}
}

func TestLoggingInterceptor_Unary(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		wantCode   string
	}{
		{name: "ok", wantCode: codes.OK.String()},
		{name: "status error", handlerErr: status.Error(codes.NotFound, "missing"), wantCode: codes.NotFound.String()},
		{name: "plain error", handlerErr: errors.New("boom"), wantCode: codes.Unknown.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			interceptor := NewLoggingInterceptor(NewWithWriter(&buf, "test")).Unary()

			info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
			_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
				return "resp", tt.handlerErr
			})
			if !errors.Is(err, tt.handlerErr) {
				t.Errorf("interceptor returned %v, want %v", err, tt.handlerErr)
			}

			line := decodeLine(t, &buf)
			if line["status_code"] != tt.wantCode {
				t.Errorf("status_code = %v, want %s", line["status_code"], tt.wantCode)
			}
			if line["method"] != info.FullMethod {
				t.Errorf("method = %v", line["method"])
			}
			if line["client_ip"] != "unknown" {
				t.Errorf("client_ip = %v, want unknown", line["client_ip"])
			}
		})
	}
}

func TestEchoMiddleware(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(EchoMiddleware(NewWithWriter(&buf, "test")))
	e.GET("/status/:user/:challenge", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/status/1234/pwn", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	line := decodeLine(t, &buf)
	if line["path"] != "/status/1234/pwn" {
		t.Errorf("path = %v", line["path"])
	}
	if line["route"] != "/status/:user/:challenge" {
		t.Errorf("route = %v", line["route"])
	}
	if line["status_code"] != float64(http.StatusOK) {
		t.Errorf("status_code = %v, want 200", line["status_code"])
	}
}

func TestEchoMiddleware_LogsHandlerError(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(EchoMiddleware(NewWithWriter(&buf, "test")))

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	line := decodeLine(t, &buf)
	if line["status_code"] != float64(http.StatusNotFound) {
		t.Errorf("status_code = %v, want 404", line["status_code"])
	}
	if _, ok := line["error"]; !ok {
		t.Error("expected error attribute")
	}
}
