// Package main implements the kotare shard simulator: one or more
// in-process storage shards speaking the Redis wire protocol, for local
// development of the coordinator without a real storage fleet.
//
// Shards are declared as primary/replica address pairs; each primary is
// linked to its replica so writes mirror and WAIT confirms, the same
// topology the coordinator expects in production.
//
// Configuration:
//   - SHARDSIM_PRIMARIES: comma-separated "host:port" list (default "127.0.0.1:7000")
//   - SHARDSIM_REPLICAS:  comma-separated "host:port" list, same cardinality
//     (default: primaries' ports + 100)
//
// Example:
//
//	SHARDSIM_PRIMARIES=127.0.0.1:7000,127.0.0.1:7001 \
//	SHARDSIM_REPLICAS=127.0.0.1:7100,127.0.0.1:7101 ./shardsim
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dreamware/kotare/internal/shardsim"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	primaries := splitList(getenv("SHARDSIM_PRIMARIES", "127.0.0.1:7000"))
	replicas := splitList(os.Getenv("SHARDSIM_REPLICAS"))
	if len(replicas) == 0 {
		replicas = defaultReplicas(primaries, logger)
	}
	if len(replicas) != len(primaries) {
		logger.Fatal("replica count must match primary count",
			zap.Int("primaries", len(primaries)),
			zap.Int("replicas", len(replicas)))
	}

	var servers []*shardsim.Server
	for i, addr := range primaries {
		primary := shardsim.New()
		if err := primary.Start(addr); err != nil {
			logger.Fatal("failed to start primary", zap.String("addr", addr), zap.Error(err))
		}

		replica := shardsim.NewReplica(primary.Host(), primary.Port())
		if err := replica.Start(replicas[i]); err != nil {
			logger.Fatal("failed to start replica", zap.String("addr", replicas[i]), zap.Error(err))
		}
		primary.LinkReplica(replica)

		servers = append(servers, primary, replica)
		logger.Info("shard pair serving",
			zap.Int("shard", i),
			zap.String("primary", primary.Addr()),
			zap.String("replica", replica.Addr()))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	for _, s := range servers {
		s.Stop()
	}
	logger.Info("shard simulator stopped")
}

// defaultReplicas derives replica addresses by shifting each primary port
// up by 100.
func defaultReplicas(primaries []string, logger *zap.Logger) []string {
	out := make([]string, 0, len(primaries))
	for _, addr := range primaries {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			logger.Fatal("malformed primary address", zap.String("addr", addr), zap.Error(err))
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Fatal("malformed primary port", zap.String("addr", addr), zap.Error(err))
		}
		out = append(out, net.JoinHostPort(host, strconv.Itoa(port+100)))
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
