package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streampass/config"
	"streampass/native/collection"
	nativecommon "streampass/native/common"
	"streampass/native/flow"
	"streampass/native/replication"
	"streampass/native/rewards"
	"streampass/native/subscription"
	"streampass/observability"
	"streampass/observability/logging"
	"streampass/state"
	"streampass/storage"
)

const schedulerInterval = 15 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STREAMPASS_ENV"))
	logger := logging.Setup("streampassd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	hub, err := parseAddress(cfg.HubAddress)
	if err != nil {
		logger.Error("invalid hub address", "error", err)
		os.Exit(1)
	}
	operator, err := parseAddress(cfg.OperatorAddress)
	if err != nil {
		logger.Error("invalid operator address", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := observability.NewMetricsEmitter(nil)

	// The coordinator and relay principals stay distinct: a caller holding
	// the coordinator capability bypasses the registry's reward accounting,
	// so relay deliveries must arrive under their own identity.
	relay := relayPrincipal(operator)
	caps := nativecommon.NewCapabilityTable()
	caps.Grant(operator, nativecommon.CapCoordinator)
	caps.Grant(relay, nativecommon.CapRelay)

	substrate := newMemSubstrate(operator)

	flowEngine := flow.NewEngine()
	flowEngine.SetState(manager)
	flowEngine.SetSubstrate(substrate)
	flowEngine.SetEmitter(emitter)
	flowEngine.SetPauses(cfg)
	flowEngine.SetFeeBps(cfg.FeeBps)
	flowEngine.SetHub(hub)

	rewardEngine := rewards.NewEngine()
	rewardEngine.SetState(manager)
	rewardEngine.SetEmitter(emitter)
	rewardEngine.SetPauses(cfg)

	registry := collection.NewRegistry(manager)
	registry.SetIdentity(identityView{manager: manager})
	registry.SetRewards(rewardEngine)
	registry.SetCapabilities(caps)
	registry.SetEmitter(emitter)
	registry.SetPauses(cfg)
	registry.SetDefaultSupply(cfg.DefaultSupply)
	registry.SetMintReward(cfg.MintRewardAmount())

	rewardEngine.SetMembership(registry)

	feePot := flow.NewFeePot()
	feePot.SetState(manager)
	feePot.SetHub(hub)
	feePot.SetTreasurer(operator)
	feePot.SetEmitter(emitter)
	feePot.SetPauses(cfg)
	if balance, err := feePot.Balance(); err == nil {
		logger.Info("fee pot loaded", "balance", balance.String())
	}

	scheduler := subscription.NewMemoryScheduler()

	coordinator := subscription.NewEngine()
	coordinator.SetState(manager)
	coordinator.SetFlows(flowEngine)
	coordinator.SetSubstrate(substrate)
	coordinator.SetScheduler(scheduler)
	coordinator.SetEmitter(emitter)
	coordinator.SetPauses(cfg)
	coordinator.SetOperator(operator)
	coordinator.SetHub(hub)
	coordinator.SetDefaultPolicy(subscription.CreatorPolicy{
		MinRate:     cfg.DefaultMinRateAmount(),
		MinDuration: cfg.DefaultMinDuration,
	})

	if cfg.RemoteDomain != "" {
		inbox := replication.NewInbox()
		inbox.SetState(manager)
		inbox.SetRegistry(registry)
		inbox.SetRewards(rewardEngine)
		inbox.SetCapabilities(caps)
		inbox.SetOperator(relay)
		inbox.SetEmitter(emitter)
		inbox.SetPauses(cfg)
		if err := inbox.RegisterRemoteSender(cfg.RemoteDomain, relay); err != nil {
			logger.Error("failed to register remote sender", "error", err)
			os.Exit(1)
		}

		outbox := replication.NewOutbox()
		outbox.SetRelay(newLoopbackRelay(inbox, relay))
		outbox.SetDomain(cfg.RemoteDomain)
		outbox.SetRefund(operator)
		outbox.SetEmitter(emitter)
		outbox.SetPauses(cfg)

		coordinator.SetActivation(&subscription.RemoteReplicationPolicy{Outbox: outbox})
		logger.Info("replication enabled", "domain", cfg.RemoteDomain)
	} else {
		coordinator.SetActivation(&subscription.LocalActivationPolicy{
			Registry:   registry,
			Rewards:    rewardEngine,
			Operator:   operator,
			MintReward: cfg.MintRewardAmount(),
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddress,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("serving metrics", "address", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(schedulerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := scheduler.Tick(now.Unix()); err != nil {
					logger.Error("scheduler tick failed", "error", err)
				}
			}
		}
	}()

	logger.Info("streampassd started",
		"asset", cfg.SettlementAsset,
		"fee_bps", cfg.FeeBps,
		"data_dir", cfg.DataDir,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("address not configured")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes, got %d", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// relayPrincipal derives the address the in-process relay acts as. It is
// keyed off the operator so each deployment gets a stable relay identity
// that never collides with the coordinator.
func relayPrincipal(operator [20]byte) [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("streampass.relay"), operator[:])
	copy(addr[:], digest[12:])
	return addr
}

// identityView adapts the state manager to the registry's identity lookup.
type identityView struct {
	manager *state.Manager
}

func (v identityView) Controller(creatorID [32]byte) ([20]byte, bool, error) {
	return v.manager.IdentityControllerGet(creatorID)
}

// memSubstrate is the in-process stream substrate used when no external
// payment facility is attached. It tracks pairwise rates and grants the
// configured operator delegated authority over every account.
type memSubstrate struct {
	mu       sync.Mutex
	rates    map[[40]byte]*big.Int
	operator [20]byte
}

func newMemSubstrate(operator [20]byte) *memSubstrate {
	return &memSubstrate{rates: make(map[[40]byte]*big.Int), operator: operator}
}

func pairOf(from, to [20]byte) [40]byte {
	var key [40]byte
	copy(key[:20], from[:])
	copy(key[20:], to[:])
	return key
}

func (s *memSubstrate) RateBetween(from, to [20]byte) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate, ok := s.rates[pairOf(from, to)]; ok {
		return new(big.Int).Set(rate), nil
	}
	return big.NewInt(0), nil
}

func (s *memSubstrate) CreateStream(from, to [20]byte, rate *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairOf(from, to)] = new(big.Int).Set(rate)
	return nil
}

func (s *memSubstrate) UpdateStream(from, to [20]byte, rate *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairOf(from, to)] = new(big.Int).Set(rate)
	return nil
}

func (s *memSubstrate) DeleteStream(from, to [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rates, pairOf(from, to))
	return nil
}

func (s *memSubstrate) HasAuthority(operator, account [20]byte) (bool, error) {
	return operator == s.operator, nil
}

// loopbackRelay delivers dispatched intents straight back into the local
// inbox. Delivery ids derive from the relay sequence so every send consumes
// a fresh id.
type loopbackRelay struct {
	mu     sync.Mutex
	inbox  *replication.Inbox
	sender [20]byte
	seq    uint64
}

func newLoopbackRelay(inbox *replication.Inbox, sender [20]byte) *loopbackRelay {
	return &loopbackRelay{inbox: inbox, sender: sender}
}

func (r *loopbackRelay) Quote(domain string, payloadLen int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *loopbackRelay) Send(domain string, payload []byte, refund [20]byte) (uint64, error) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	var deliveryID [32]byte
	copy(deliveryID[:], ethcrypto.Keccak256([]byte(domain), seqBytes[:]))

	if err := r.inbox.Deliver(r.sender, domain, r.sender, deliveryID, payload); err != nil {
		return 0, err
	}
	return seq, nil
}
