// Command txclient drives Access/Mutate, each as an implicit
// single-operation transaction, against a selectable backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chn0318/txengine/engine"
	"github.com/chn0318/txengine/engine/backend/memorylog"
	"github.com/chn0318/txengine/engine/backend/rpclog"
	"github.com/chn0318/txengine/engine/objects"
)

var (
	backendFlag string
	addrFlag    string
	streamFlag  string
)

func main() {
	root := &cobra.Command{
		Use:   "txclient",
		Short: "Drive a transactional map against a txengine backend",
	}
	root.PersistentFlags().StringVar(&backendFlag, "backend", "memory", "backend: memory or grpc")
	root.PersistentFlags().StringVar(&addrFlag, "addr", "localhost:50052", "txlog gRPC address (backend=grpc)")
	root.PersistentFlags().StringVar(&streamFlag, "stream", "00000000-0000-0000-0000-0000000000aa", "stream id for the demo map")

	root.AddCommand(newPutCommand(), newGetCommand(), newRemoveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRuntime() (*engine.Runtime, *engine.Proxy, error) {
	cfg := engine.LoadConfig(viper.GetViper())

	var seq engine.Sequencer
	var log engine.Log
	switch backendFlag {
	case "memory":
		m := memorylog.NewMemoryLog()
		seq, log = m, m
	case "grpc":
		conn, err := grpc.Dial(addrFlag,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpclog.CodecName)),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", addrFlag, err)
		}
		c := rpclog.NewClient(conn)
		seq, log = c, c
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backendFlag)
	}

	logger, err := engine.NewLogger(true)
	if err != nil {
		return nil, nil, err
	}
	rt := engine.NewRuntime(seq, log, cfg, logger)

	streamID, err := parseStream(streamFlag)
	if err != nil {
		return nil, nil, err
	}
	proxy := rt.RegisterProxy(streamID, objects.NewMap())
	return rt, proxy, nil
}

func parseStream(s string) (engine.StreamID, error) {
	return uuid.Parse(s)
}

func newPutCommand() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Put a key/value pair inside a single OPTIMISTIC transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, proxy, err := newRuntime()
			if err != nil {
				return err
			}
			ctx := context.Background()
			payload, err := objects.MarshalPut(key, value)
			if err != nil {
				return err
			}
			_, err = proxy.Mutate(ctx, rt, objects.MapMethodPut, payload, []engine.ConflictParam{key})
			if err != nil {
				return err
			}
			fmt.Printf("put %s=%s\n", key, value)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "key to write")
	cmd.Flags().StringVar(&value, "value", "", "value to write")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newGetCommand() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read a key inside a single OPTIMISTIC transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, proxy, err := newRuntime()
			if err != nil {
				return err
			}
			ctx := context.Background()
			var found bool
			var raw string
			err = proxy.Access(ctx, rt, []engine.ConflictParam{key}, func(obj engine.MaterializedObject) {
				m := obj.(*objects.Map)
				if v, ok := m.Get(key); ok {
					found = true
					raw = string(v)
				}
			})
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("%s: <not found>\n", key)
				return nil
			}
			fmt.Printf("%s=%s\n", key, raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "key to read")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a key inside a single OPTIMISTIC transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, proxy, err := newRuntime()
			if err != nil {
				return err
			}
			ctx := context.Background()
			payload, err := objects.MarshalRemove(key)
			if err != nil {
				return err
			}
			_, err = proxy.Mutate(ctx, rt, objects.MapMethodRemove, payload, []engine.ConflictParam{key})
			if err != nil {
				return err
			}
			fmt.Printf("removed %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "key to remove")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
