// Package solvertest поднимает сервис солвера в памяти поверх bufconn.
package solvertest

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/shaiso/mdds/internal/solverapi"
)

const bufSize = 1 << 20

// Serve запускает srv на bufconn и возвращает клиентское соединение.
// Сервер и соединение закрываются в t.Cleanup.
func Serve(t testing.TB, srv solverapi.SolverServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	solverapi.RegisterSolverServer(server, srv)

	go func() {
		_ = server.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})

	return conn
}
