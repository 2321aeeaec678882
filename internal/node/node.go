// Package node собирает узел расписания: базу, реестр запросов,
// рассылку зеркал, детектор конфликтов и движок переговоров,
// подключенные к шине сообщений.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/conflict"
	"github.com/iudanet/fleetsched/internal/negotiation"
	"github.com/iudanet/fleetsched/internal/query"
	"github.com/iudanet/fleetsched/internal/registry"
	"github.com/iudanet/fleetsched/internal/schedule"
)

// Config параметры узла расписания.
type Config struct {
	// NodeVersion версия узла; резервный узел стартует с большей версией
	NodeVersion uint64

	// HeartbeatPeriod период сигнала живости; он же срок аренды
	HeartbeatPeriod time.Duration

	// QueryCleanupPeriod период обхода реестра запросов сборщиком мусора
	QueryCleanupPeriod time.Duration

	// QueryGracePeriod сколько запрос без подписчиков живет до удаления
	QueryGracePeriod time.Duration

	// MirrorUpdatePeriod период рассылки патчей зеркалам
	MirrorUpdatePeriod time.Duration
}

// withDefaults подставляет значения по умолчанию.
func (c Config) withDefaults() Config {
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = time.Second
	}
	if c.QueryCleanupPeriod <= 0 {
		c.QueryCleanupPeriod = 10 * time.Second
	}
	if c.QueryGracePeriod <= 0 {
		c.QueryGracePeriod = time.Minute
	}
	if c.MirrorUpdatePeriod <= 0 {
		c.MirrorUpdatePeriod = query.DefaultUpdatePeriod
	}
	return c
}

// Node узел расписания.
type Node struct {
	cfg       Config
	logger    *slog.Logger
	bus       bus.Bus
	db        *schedule.Database
	store     registry.Store
	queries   *query.Registry
	fanout    *query.Fanout
	detector  *conflict.Detector
	conflicts *negotiation.Record
	evaluate  negotiation.Evaluator

	subs     []bus.Subscription
	services []bus.Registration
	stop     chan struct{}
	loops    chan struct{} // закрывается после остановки heartbeat и GC
}

// New конструирует узел. Реестр участников загружается при старте;
// ошибка загрузки фатальна — узел отказывается стартовать.
func New(
	ctx context.Context,
	cfg Config,
	b bus.Bus,
	store registry.Store,
	oracle conflict.Oracle,
	evaluate negotiation.Evaluator,
	logger *slog.Logger,
) (*Node, error) {
	cfg = cfg.withDefaults()
	if evaluate == nil {
		evaluate = negotiation.QuickestFinishEvaluator()
	}

	db := schedule.NewDatabase()

	registrations, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load participant registry: %w", err)
	}
	for _, reg := range registrations {
		if _, _, err := db.AddParticipant(reg.ID, reg.Description); err != nil {
			return nil, fmt.Errorf("restore participant [%d]: %w", reg.ID, err)
		}
	}
	logger.Info("Loaded participant registry", "participants", len(registrations))

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		bus:       b,
		db:        db,
		store:     store,
		queries:   query.NewRegistry(),
		conflicts: negotiation.NewRecord(logger),
		evaluate:  evaluate,
		stop:      make(chan struct{}),
		loops:     make(chan struct{}),
	}
	n.fanout = query.NewFanout(db, n.queries, b, cfg.NodeVersion, cfg.MirrorUpdatePeriod, logger)
	n.detector = conflict.NewDetector(db, oracle, n.handleConflicts, logger)

	if err := n.setup(); err != nil {
		n.teardown()
		return nil, err
	}
	return n, nil
}

// Database возвращает базу расписания узла.
func (n *Node) Database() *schedule.Database { return n.db }

// Conflicts возвращает реестр активных конфликтов узла.
func (n *Node) Conflicts() *negotiation.Record { return n.conflicts }

// Queries возвращает реестр запросов узла.
func (n *Node) Queries() *query.Registry { return n.queries }

// Start запускает фоновые циклы узла: рассылку зеркал, детектор
// конфликтов, сердцебиение и сборку мусора запросов. Сразу публикует
// снимки участников и запросов.
func (n *Node) Start() {
	n.fanout.Start()
	n.detector.Start()
	go n.runLoops()

	n.broadcastParticipants()
	n.broadcastQueries()

	n.logger.Info("Schedule node started",
		"node_version", n.cfg.NodeVersion,
		"heartbeat_period", n.cfg.HeartbeatPeriod,
	)
}

// Close останавливает фоновые циклы и снимает подписки. Детектор
// конфликтов присоединяется до возврата.
func (n *Node) Close() {
	close(n.stop)
	<-n.loops
	n.detector.Close()
	n.fanout.Close()
	n.teardown()
	n.logger.Info("Schedule node stopped")
}

func (n *Node) teardown() {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.subs = nil
	for _, svc := range n.services {
		svc.Close()
	}
	n.services = nil
}

// runLoops крутит сердцебиение и сборку мусора запросов на общем
// таймерном цикле узла.
func (n *Node) runLoops() {
	defer close(n.loops)

	heartbeat := time.NewTicker(n.cfg.HeartbeatPeriod)
	defer heartbeat.Stop()
	cleanup := time.NewTicker(n.cfg.QueryCleanupPeriod)
	defer cleanup.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-heartbeat.C:
			n.publishHeartbeat()
		case <-cleanup.C:
			n.cleanupQueries()
		}
	}
}
