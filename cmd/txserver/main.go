// Command txserver hosts the TxLog gRPC service backed by an in-memory
// engine.Sequencer/engine.Log pair.
package main

import (
	"log"
	"net"

	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/chn0318/txengine/engine/backend/memorylog"
	"github.com/chn0318/txengine/engine/backend/rpclog"
)

func main() {
	viper.SetDefault("listen-addr", ":50052")
	viper.AutomaticEnv()

	logImpl := memorylog.NewMemoryLog()
	srv := rpclog.NewServer(logImpl, logImpl)

	addr := viper.GetString("listen-addr")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}

	grpcServer := grpc.NewServer()
	rpclog.Register(grpcServer, srv)

	log.Printf("txlog gRPC server listening on %s\n", addr)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("serve error: %v", err)
	}
}
