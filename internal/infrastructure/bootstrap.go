package infrastructure

import (
	"context"
	"log/slog"
	"os"
	"time"

	"walletd/internal/config"
	"walletd/internal/connectivity"
	"walletd/internal/ledger"
	"walletd/internal/peer"
	"walletd/internal/remote"
	transportHTTP "walletd/internal/transport/http"
	transportNATS "walletd/internal/transport/nats"
	"walletd/internal/wallet"
	"walletd/internal/worker"
)

// reconcileLockTTL bounds how long a crashed run can keep the redis lock.
const reconcileLockTTL = 5 * time.Minute

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	localDB, err := connectPostgres(cfg.LocalDSN())
	if err != nil {
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, localDB.Close)

	// The remote pool is lazy: the daemon must start while offline.
	remoteDB, err := newLazyPostgres(cfg.RemoteDSN)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, remoteDB.Close)

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	bus := transportNATS.NewBus(nc)
	store := ledger.NewStore(localDB)
	queue := ledger.NewQueue(localDB)
	remoteStore := remote.NewPostgresStore(remoteDB)

	monitor := connectivity.NewMonitor(remoteStore, bus, cfg.ProbeInterval(), log)
	sender := peer.NewSender(cfg.PeerTimeout())
	svc := wallet.New(store, remoteStore, monitor, bus, sender, log)

	lock := worker.NewRedisLock(rdb, reconcileLockTTL)
	rec := worker.NewReconciler(queue, store, remoteStore, monitor, lock, cfg.ReconcileInterval(), log)

	servers := []Server{
		monitor,
		worker.NewRunner(rec, nc, log),
		transportNATS.NewHandler(svc, nc, log),
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, bus))
	}
	if addr, peerErr := cfg.PeerAddr(); peerErr == nil {
		servers = append(servers, peer.NewListener(addr, svc, cfg.PeerTimeout(), log))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
