// fleetsim поднимает узел расписания и двух участников в одном процессе
// и прогоняет их через конфликт с переговорами. Используется для
// ручной проверки всего конвейера без флота.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/iudanet/fleetsched/internal/bus"
	"github.com/iudanet/fleetsched/internal/bus/inproc"
	"github.com/iudanet/fleetsched/internal/conflict"
	"github.com/iudanet/fleetsched/internal/models"
	"github.com/iudanet/fleetsched/internal/node"
	"github.com/iudanet/fleetsched/internal/registry/yamlstore"
	"github.com/iudanet/fleetsched/internal/writer"
	"github.com/iudanet/fleetsched/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	registryPath := flag.String("registry-path", ".fleetsim_registry.yaml", "Participant registry location")
	timeout := flag.Duration("timeout", 5*time.Second, "How long to wait for the negotiation to conclude")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleetsched Simulator\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Build Date: %s\n", BuildDate)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(logger, *registryPath, *timeout); err != nil {
		logger.Error("Simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, registryPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := yamlstore.New(registryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	b := inproc.New()
	defer b.Close()

	n, err := node.New(ctx, node.Config{MirrorUpdatePeriod: 5 * time.Millisecond}, b, store,
		conflict.ProximityOracle{}, nil, logger)
	if err != nil {
		return err
	}
	n.Start()
	defer n.Close()

	w, err := writer.New(b, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	// следим за извещениями о конфликтах и итогами переговоров
	notices := make(chan api.ConflictNotice, 1)
	sub, err := b.Subscribe(bus.NegotiationNoticeTopic, func(msg any) {
		if m, ok := msg.(api.ConflictNotice); ok {
			select {
			case notices <- m:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	conclusions := make(chan api.ConflictConclusion, 1)
	sub2, err := b.Subscribe(bus.NegotiationConclusionTopic, func(msg any) {
		if m, ok := msg.(api.ConflictConclusion); ok {
			select {
			case conclusions <- m:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer sub2.Unsubscribe()

	// два робота едут навстречу друг другу по одной карте
	robotA, err := w.MakeParticipant(ctx, models.ParticipantDescription{
		Name: "robot_a", Owner: "fleetsim",
		Responsiveness: models.Responsive,
		Profile:        models.Profile{Footprint: 0.5},
	})
	if err != nil {
		return err
	}
	robotB, err := w.MakeParticipant(ctx, models.ParticipantDescription{
		Name: "robot_b", Owner: "fleetsim",
		Responsiveness: models.Responsive,
		Profile:        models.Profile{Footprint: 0.5},
	})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := robotA.Set(crossing("mapA", start, 0, 10)); err != nil {
		return err
	}
	if err := robotB.Set(crossing("mapA", start, 10, 0)); err != nil {
		return err
	}

	var notice api.ConflictNotice
	select {
	case notice = <-notices:
		logger.Info("Conflict detected",
			"conflict_version", notice.ConflictVersion,
			"participants", notice.Participants,
		)
	case <-ctx.Done():
		return fmt.Errorf("no conflict notice before timeout: %w", ctx.Err())
	}

	// robotA предлагает первым, robotB подстраивается под него
	proposalA := api.ConflictProposal{
		ConflictVersion: notice.ConflictVersion,
		ForParticipant:  uint64(robotA.ID()),
		Itinerary:       models.ItineraryToAPI(crossing("mapA", start, 0, 10)),
		ProposalVersion: 1,
	}
	if err := b.Publish(bus.NegotiationProposalTopic, proposalA); err != nil {
		return err
	}

	proposalB := api.ConflictProposal{
		ConflictVersion: notice.ConflictVersion,
		ForParticipant:  uint64(robotB.ID()),
		ToAccommodate: []api.TableEntry{
			{Participant: uint64(robotA.ID()), Version: 1},
		},
		Itinerary:       models.ItineraryToAPI(crossing("mapA", start.Add(time.Minute), 10, 0)),
		ProposalVersion: 1,
	}
	if err := b.Publish(bus.NegotiationProposalTopic, proposalB); err != nil {
		return err
	}

	select {
	case conclusion := <-conclusions:
		logger.Info("Negotiation concluded",
			"conflict_version", conclusion.ConflictVersion,
			"resolved", conclusion.Resolved,
			"table", conclusion.Table,
		)
	case <-ctx.Done():
		return fmt.Errorf("no conclusion before timeout: %w", ctx.Err())
	}
	return nil
}

// crossing строит маршрут через карту из точки x0 в x1 за десять секунд.
func crossing(mapName string, start time.Time, x0, x1 float64) models.Itinerary {
	return models.Itinerary{{
		Map: mapName,
		Trajectory: models.Trajectory{Waypoints: []models.Waypoint{
			{Time: start, X: x0, Y: 0},
			{Time: start.Add(10 * time.Second), X: x1, Y: 0},
		}},
	}}
}
