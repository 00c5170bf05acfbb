package engine

import "github.com/spf13/viper"

// Config holds the runtime parameters read from YAML/env via viper.
type Config struct {
	// Backend selects which Sequencer/Log implementation to wire up:
	// "memory", "grpc", or "scalog".
	Backend string

	// PreciseConflicts enables the doPreciseCommit fallback
	// when the sequencer reports an imprecise, fingerprint-only conflict.
	PreciseConflicts bool

	// TxLoggingEnabled mirrors committing transactions onto
	// TransactionStreamID.
	TxLoggingEnabled bool

	// GRPCAddr is the txlog gRPC service address, used when Backend=="grpc".
	GRPCAddr string

	// Scalog fields, used when Backend=="scalog".
	ScalogDiscIP              string
	ScalogDiscPort            uint16
	ScalogDataPort            uint16
	ScalogDataReplicationFactor int32
	ScalogNumClients          int
}

// LoadConfig reads runtime configuration from viper, falling back to local
// single-process defaults for anything unset.
func LoadConfig(v *viper.Viper) Config {
	if v == nil {
		v = viper.GetViper()
	}
	v.SetDefault("backend", "memory")
	v.SetDefault("precise-conflicts", true)
	v.SetDefault("tx-logging", false)
	v.SetDefault("grpc-addr", "localhost:50052")
	v.SetDefault("disc-ip", "127.0.0.1")
	v.SetDefault("disc-port", 9091)
	v.SetDefault("data-port", 9092)
	v.SetDefault("data-replication-factor", 3)
	v.SetDefault("scalog-num-clients", 4)

	return Config{
		Backend:                     v.GetString("backend"),
		PreciseConflicts:            v.GetBool("precise-conflicts"),
		TxLoggingEnabled:            v.GetBool("tx-logging"),
		GRPCAddr:                    v.GetString("grpc-addr"),
		ScalogDiscIP:                v.GetString("disc-ip"),
		ScalogDiscPort:              uint16(v.GetInt("disc-port")),
		ScalogDataPort:              uint16(v.GetInt("data-port")),
		ScalogDataReplicationFactor: int32(v.GetInt("data-replication-factor")),
		ScalogNumClients:            v.GetInt("scalog-num-clients"),
	}
}
