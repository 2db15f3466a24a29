package tracker

import (
	"context"
	logger "log"
	"time"

	"github.com/cercatrack/railfusion/business/fusion"
	"github.com/cercatrack/railfusion/business/platforms"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
)

// RunViewPublishLoop walks the tracked vehicles on a fixed period,
// feeding the platform habit store from live platform reports, building
// each train's view and publishing it. The pass record sweep rides on
// the same period. habits and publisher may be nil.
func RunViewPublishLoop(ctx context.Context, log *logger.Logger, engine *fusion.Engine,
	vehicleCache *vehicles.Cache, habits *platforms.Store, publisher *fusion.ViewPublisher,
	period time.Duration) {

	log.Printf("view publish loop starting, every %s", period)
	sleep := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			log.Printf("view publish loop exiting: %v", ctx.Err())
			return
		case <-time.After(sleep):
		}
		start := time.Now()

		publishCycle(log, engine, vehicleCache, habits, publisher, start.Unix())

		workTook := time.Since(start)
		if workTook >= period {
			sleep = 0
		} else {
			sleep = period - workTook
		}
	}
}

// publishCycle runs one pass over the current vehicle snapshot.
func publishCycle(log *logger.Logger, engine *fusion.Engine, vehicleCache *vehicles.Cache,
	habits *platforms.Store, publisher *fusion.ViewPublisher, now int64) {

	published := 0
	for _, observation := range vehicleCache.ListSorted() {
		if !observation.IsFresh(now) {
			continue
		}
		if habits != nil {
			for stopID, platform := range observation.PlatformByStop {
				habits.Observe(observation.NucleusID, observation.RouteID, stopID, platform, observation.Timestamp)
			}
		}
		vm, err := engine.BuildTrainDetailVM(observation.NucleusID, observation.TrainID, now)
		if err != nil {
			log.Printf("error building view for train %s: %v", observation.TrainID, err)
			continue
		}
		if publisher == nil {
			continue
		}
		if err := publisher.PublishView(observation.NucleusID, observation.TrainID, vm.ServiceInstanceID, vm.Unified); err != nil {
			log.Printf("error publishing view for train %s: %v", observation.TrainID, err)
			continue
		}
		published++
	}
	if publisher != nil && published > 0 {
		log.Printf("published %d train views", published)
	}
	engine.Passes().Sweep(now)
}
